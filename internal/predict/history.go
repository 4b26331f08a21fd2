// Package predict — модель прогнозирования загрузки ядра: история сэмплов,
// экстраполятор тренда/ускорения и распознаватель повторяющихся паттернов нагрузки.
package predict

// HistorySize — ёмкость кольцевого буфера сэмплов на одно ядро
const HistorySize = 100

// Sample — одно наблюдение метрик ядра. После записи в историю не меняется.
type Sample struct {
	Timestamp       uint64 // монотонное время, нс
	Utilization     uint32 // загрузка CPU, 0–100
	Frequency       uint32 // текущая частота, кГц
	IRQCount        uint32 // прерывания с прошлого сэмпла
	ContextSwitches uint32 // переключения контекста
	IdleDelta       uint64 // прирост idle-времени с прошлого сэмпла
	IOWait          uint32 // iowait, 0–100
	Runnable        uint32 // число задач в состоянии runnable
}

// History — кольцевой буфер последних HistorySize сэмплов.
// Индексы буфера наружу не отдаются: только Recent/At/Len.
type History struct {
	buf   [HistorySize]Sample
	idx   int // позиция следующей записи
	count int // число валидных записей, не больше HistorySize
}

// Append добавляет сэмпл; при заполненном буфере молча затирает самый старый.
func (h *History) Append(s Sample) {
	h.buf[h.idx] = s
	h.idx = (h.idx + 1) % HistorySize
	if h.count < HistorySize {
		h.count++
	}
}

// Len возвращает число сэмплов в истории
func (h *History) Len() int {
	return h.count
}

// At возвращает сэмпл возраста age (0 — самый свежий). false, если такого сэмпла нет.
func (h *History) At(age int) (Sample, bool) {
	if age < 0 || age >= h.count {
		return Sample{}, false
	}
	return h.buf[(h.idx-1-age+2*HistorySize)%HistorySize], true
}

// Recent возвращает n последних сэмплов, от новых к старым.
// Если в истории меньше n сэмплов — (nil, false): вызывающий использует значение по умолчанию.
func (h *History) Recent(n int) ([]Sample, bool) {
	if n < 0 || n > h.count {
		return nil, false
	}
	out := make([]Sample, n)
	for i := range out {
		out[i], _ = h.At(i)
	}
	return out, true
}

// Reset очищает историю
func (h *History) Reset() {
	*h = History{}
}
