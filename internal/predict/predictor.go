package predict

// Predict возвращает прогноз загрузки 0–100.
// Квадратичная экстраполяция конечными разностями по 4 последним сэмплам,
// затем поправка по распознанному паттерну. Каждый вызов увеличивает PredictionsMade.
func (m *Model) Predict() uint32 {
	m.Stats.PredictionsMade++

	if m.History.Len() < minPredictHistory {
		return NeutralPrediction
	}
	s, _ := m.History.Recent(4)
	cur, prev1, prev2, prev3 := int(s[0].Utilization), int(s[1].Utilization), int(s[2].Utilization), int(s[3].Utilization)

	trend1 := cur - prev1
	trend2 := prev1 - prev2
	trend3 := prev2 - prev3

	acceleration := trend1 - trend2
	prevAcceleration := trend2 - trend3

	// деление в Go усекает к нулю
	prediction := cur + (trend1*2+trend2)/3 + (acceleration+prevAcceleration)/4
	prediction = m.Adjust(prediction)

	return uint32(clamp(prediction, 0, 100))
}
