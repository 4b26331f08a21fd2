// Package monitoring — prometheus-коллекторы состояния ядер governor.
package monitoring

import (
	"errors"
	"strconv"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/constraints"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/predict"
)

const (
	promNamespace = "predictd"
	coreSubsystem = "core"
	patternSubsys = "pattern"

	LogTopName = "monitoring"
)

// StatusSource отдаёт снимки всех управляемых ядер
type StatusSource interface {
	Statuses() []governor.Status
}

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newPerCoreCollector — метрика с меткой cpu, значение берётся из снимка ядра
func newPerCoreCollector[T number](name, help string, metricType prom.ValueType,
	src StatusSource, readFunc func(governor.Status) T, log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(
		prom.BuildFQName(promNamespace, coreSubsystem, name),
		help,
		[]string{"cpu"},
		nil,
	)
	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			for _, st := range src.Statuses() {
				log.V(5).Info("Collecting metrics for prometheus", "metric", name, "cpu", st.CPU)
				ch <- prom.MustNewConstMetric(desc, metricType, float64(readFunc(st)), strconv.Itoa(st.CPU))
			}
		},
	}
}

// newPerPatternCollector — метрика с метками cpu и pattern по таблице паттернов ядра
func newPerPatternCollector[T number](name, help string,
	src StatusSource, readFunc func(predict.Pattern) T, log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(
		prom.BuildFQName(promNamespace, patternSubsys, name),
		help,
		[]string{"cpu", "pattern"},
		nil,
	)
	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			for _, st := range src.Statuses() {
				log.V(5).Info("Collecting pattern metrics for prometheus", "metric", name, "cpu", st.CPU)
				for _, p := range st.Patterns {
					ch <- prom.MustNewConstMetric(desc, prom.GaugeValue, float64(readFunc(p)),
						strconv.Itoa(st.CPU), strconv.FormatUint(uint64(p.ID), 10))
				}
			}
		},
	}
}

// NewCollectors создаёт все коллекторы governor
func NewCollectors(src StatusSource, log logr.Logger) []prom.Collector {
	log = log.WithName(LogTopName)
	return []prom.Collector{
		newPerCoreCollector("last_frequency_khz", "Last frequency successfully applied to the core",
			prom.GaugeValue, src, func(s governor.Status) uint32 { return s.LastFreq }, log),
		newPerCoreCollector("target_frequency_khz", "Last frequency requested for the core",
			prom.GaugeValue, src, func(s governor.Status) uint32 { return s.TargetFreq }, log),
		newPerCoreCollector("utilization_percent", "Utilization of the most recent sample",
			prom.GaugeValue, src, func(s governor.Status) uint32 { return s.Utilization }, log),
		newPerCoreCollector("predicted_utilization_percent", "Most recent utilization forecast",
			prom.GaugeValue, src, func(s governor.Status) uint32 { return s.Predicted }, log),
		newPerCoreCollector("predictions_total", "Predictions made by the core model",
			prom.CounterValue, src, func(s governor.Status) uint32 { return s.Stats.PredictionsMade }, log),
		newPerCoreCollector("patterns", "Entries in the core pattern table",
			prom.GaugeValue, src, func(s governor.Status) int { return len(s.Patterns) }, log),
		newPerCoreCollector("apply_errors_total", "Failed frequency change requests",
			prom.CounterValue, src, func(s governor.Status) uint64 { return s.ApplyErrors }, log),
		newPerCoreCollector("skipped_ticks_total", "Ticks skipped for missing collaborators or samples",
			prom.CounterValue, src, func(s governor.Status) uint64 { return s.SkippedTicks }, log),
		newPerPatternCollector("weight", "Decaying confidence of a learned pattern",
			src, func(p predict.Pattern) uint32 { return p.Weight }, log),
		newPerPatternCollector("avg_utilization_percent", "Average utilization observed for a pattern",
			src, func(p predict.Pattern) uint32 { return p.AvgUtil }, log),
		newPerPatternCollector("target_frequency_khz", "Frequency average learned for a pattern",
			src, func(p predict.Pattern) uint32 { return p.TargetFreq }, log),
	}
}

// Register регистрирует коллекторы governor в reg
func Register(reg prom.Registerer, src StatusSource, log logr.Logger) error {
	var errs []error
	for _, c := range NewCollectors(src, log) {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
