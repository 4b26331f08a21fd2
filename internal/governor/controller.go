package governor

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/predict"
)

// Значения по умолчанию контура управления
const (
	DefaultSampleRate    = 50 * time.Millisecond
	DefaultMinFreqChange = 100000 // кГц
	// ReclusterEvery — перекластеризация паттернов каждые N прогнозов
	ReclusterEvery = 100
)

// State — состояние контура ядра
type State int

const (
	StateInitialized State = iota
	StateActive
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Config — параметры контура, общие для всех ядер
type Config struct {
	SampleRate    time.Duration
	MinFreqChange uint32
	Model         predict.Params
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		SampleRate:    DefaultSampleRate,
		MinFreqChange: DefaultMinFreqChange,
		Model:         predict.DefaultParams(),
	}
}

// Decision — итог одного такта контура
type Decision struct {
	CPU         int    `json:"cpu"`
	Timestamp   uint64 `json:"timestamp"`
	Utilization uint32 `json:"utilization"`
	Predicted   uint32 `json:"predicted"`
	Target      uint32 `json:"target_freq"`
	Frequency   uint32 `json:"last_freq"`
	Requested   bool   `json:"requested"`
	Applied     bool   `json:"applied"`
	Reclustered bool   `json:"reclustered"`
	Patterns    int    `json:"patterns"`
}

// Observer получает каждое решение контура. Вызывается вне мьютекса ядра.
type Observer interface {
	OnDecision(d Decision)
}

// ObserverFunc — адаптер функции к Observer
type ObserverFunc func(d Decision)

func (f ObserverFunc) OnDecision(d Decision) { f(d) }

// Status — снимок состояния ядра (только чтение)
type Status struct {
	CPU          int               `json:"cpu"`
	State        string            `json:"state"`
	MinFreq      uint32            `json:"min_freq"`
	MaxFreq      uint32            `json:"max_freq"`
	LastFreq     uint32            `json:"last_freq"`
	TargetFreq   uint32            `json:"target_freq"`
	Utilization  uint32            `json:"utilization"`
	Predicted    uint32            `json:"predicted"`
	HistoryLen   int               `json:"history_len"`
	Params       predict.Params    `json:"params"`
	Stats        predict.Stats     `json:"stats"`
	Patterns     []predict.Pattern `json:"patterns"`
	ApplyErrors  uint64            `json:"apply_errors"`
	SkippedTicks uint64            `json:"skipped_ticks"`
}

// Controller — контур управления одного ядра. Все изменения модели и частот
// выполняются под mu; циклом владеет одна горутина между Start и Stop.
type Controller struct {
	cpu      int
	cfg      Config
	policy   Policy
	source   MetricSource
	setter   FrequencySetter
	observer Observer
	logger   logr.Logger

	mu           sync.Mutex
	model        *predict.Model
	state        State
	lastFreq     uint32
	targetFreq   uint32
	lastUtil     uint32
	lastPredict  uint32
	applyErrors  uint64
	skippedTicks uint64

	lifecycle  sync.Mutex
	cancelFunc func()
	waitGroup  sync.WaitGroup
}

// NewController создаёт контур ядра policy.CPU(). Частоты инициализируются текущей частотой политики.
func NewController(policy Policy, source MetricSource, setter FrequencySetter, cfg Config, observer Observer, logger logr.Logger) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	c := &Controller{
		cfg:      cfg,
		policy:   policy,
		source:   source,
		setter:   setter,
		observer: observer,
		model:    predict.NewModel(cfg.Model),
		state:    StateInitialized,
	}
	if policy != nil {
		c.cpu = policy.CPU()
		c.lastFreq = policy.CurrentFreq()
		c.targetFreq = c.lastFreq
	}
	c.logger = logger.WithValues("cpuID", c.cpu)
	return c
}

// CPU возвращает номер ядра
func (c *Controller) CPU() int {
	return c.cpu
}

// Start запускает периодический цикл. Модель не сбрасывается.
func (c *Controller) Start() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state == StateActive || c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	c.mu.Unlock()

	ctx, cancelFunc := context.WithCancel(context.Background())
	c.cancelFunc = cancelFunc
	c.waitGroup.Add(1)
	go c.runLoop(ctx)

	c.logger.V(5).Info("controller started", "sampleRate", c.cfg.SampleRate)
}

// Stop отменяет запланированный такт и дожидается завершения текущего.
// После возврата ни один такт не выполняется.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stop(StateStopped)
}

// Close останавливает контур и переводит его в StateDestroyed
func (c *Controller) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stop(StateDestroyed)
}

func (c *Controller) stop(next State) {
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.waitGroup.Wait()
		c.cancelFunc = nil
		c.logger.V(5).Info("controller stopped")
	}
	c.mu.Lock()
	if c.state != StateDestroyed {
		c.state = next
	}
	c.mu.Unlock()
}

func (c *Controller) runLoop(ctx context.Context) {
	defer c.waitGroup.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.SampleRate):
			c.Tick()
		}
	}
}

// Tick выполняет один такт: сэмпл, прогноз, целевая частота, гистерезис, применение,
// перекластеризация каждые ReclusterEvery прогнозов. Без политики, источника или сэмпла,
// а также при несогласованных лимитах политики такт пропускается без изменения модели.
func (c *Controller) Tick() {
	if !validatePolicy(c.policy) || c.source == nil || c.setter == nil {
		c.skip()
		return
	}
	sample, err := c.source.Sample(c.cpu)
	if err != nil {
		c.logger.V(5).Info("sample failed, tick skipped", "error", err.Error())
		c.skip()
		return
	}

	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.model.Add(sample)
	predicted := c.model.Predict()
	target := TargetFrequency(c.policy, predicted, c.model.Params)

	d := Decision{
		CPU:         c.cpu,
		Timestamp:   sample.Timestamp,
		Utilization: sample.Utilization,
		Predicted:   predicted,
		Target:      target,
	}
	if absDiff(target, c.lastFreq) > c.cfg.MinFreqChange {
		d.Requested = true
		c.targetFreq = target
		if err := c.setter.SetFrequency(c.cpu, target, RoundDown); err != nil {
			c.applyErrors++
			c.logger.Error(err, "failed to apply frequency", "freq", target)
		} else {
			c.lastFreq = target
			d.Applied = true
		}
	}
	if c.model.Stats.PredictionsMade%ReclusterEvery == 0 {
		c.model.UpdatePatterns()
		d.Reclustered = true
		c.logger.V(5).Info("patterns updated", "patterns", c.model.PatternCount())
	}
	c.lastUtil = sample.Utilization
	c.lastPredict = predicted
	d.Frequency = c.lastFreq
	d.Patterns = c.model.PatternCount()
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer.OnDecision(d)
	}
}

// Limits приводит частоту в пределы политики после изменения лимитов
func (c *Controller) Limits() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy == nil || c.setter == nil || c.state == StateDestroyed {
		return
	}

	cur := c.policy.CurrentFreq()
	var (
		freq uint32
		rel  Relation
	)
	switch {
	case cur < c.policy.MinFreq():
		freq, rel = c.policy.MinFreq(), RoundUp
	case cur > c.policy.MaxFreq():
		freq, rel = c.policy.MaxFreq(), RoundDown
	default:
		return
	}
	if err := c.setter.SetFrequency(c.cpu, freq, rel); err != nil {
		c.applyErrors++
		c.logger.Error(err, "failed to apply limits", "freq", freq)
		return
	}
	c.lastFreq = freq
	c.targetFreq = freq
}

// Status возвращает снимок состояния ядра
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		CPU:          c.cpu,
		State:        c.state.String(),
		LastFreq:     c.lastFreq,
		TargetFreq:   c.targetFreq,
		Utilization:  c.lastUtil,
		Predicted:    c.lastPredict,
		HistoryLen:   c.model.History.Len(),
		Params:       c.model.Params,
		Stats:        c.model.Stats,
		Patterns:     c.model.Patterns(),
		ApplyErrors:  c.applyErrors,
		SkippedTicks: c.skippedTicks,
	}
	if c.policy != nil {
		st.MinFreq = c.policy.MinFreq()
		st.MaxFreq = c.policy.MaxFreq()
	}
	return st
}

// State возвращает текущее состояние контура
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) skip() {
	c.mu.Lock()
	c.skippedTicks++
	c.mu.Unlock()
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
