package governor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
)

// Governor — жизненный цикл управления ядрами
type Governor interface {
	Init(policy Policy) error
	Exit(cpu int) error
	Start(cpu int) error
	Stop(cpu int) error
	Limits(cpu int)
}

var _ Governor = (*Predictive)(nil)

// Option настраивает Predictive
type Option func(*Predictive)

// WithLogger задаёт logr-логгер
func WithLogger(l logr.Logger) Option {
	return func(p *Predictive) { p.logger = l }
}

// WithObserver подписывает observer на решения всех ядер
func WithObserver(o Observer) Option {
	return func(p *Predictive) { p.observer = o }
}

// Predictive — реестр ядро → контур. Ядра независимы друг от друга.
type Predictive struct {
	cfg         Config
	source      MetricSource
	setter      FrequencySetter
	observer    Observer
	logger      logr.Logger
	controllers sync.Map
}

// NewPredictive создаёт governor с общими источником метрик и механизмом применения частоты
func NewPredictive(cfg Config, source MetricSource, setter FrequencySetter, opts ...Option) *Predictive {
	p := &Predictive{
		cfg:    cfg,
		source: source,
		setter: setter,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithName("governor")
	return p
}

// Init берёт ядро политики под управление. При ошибке реестр не меняется.
func (p *Predictive) Init(policy Policy) error {
	if !validatePolicy(policy) {
		return fmt.Errorf("init: %w", ErrInvalidPolicy)
	}
	cpu := policy.CPU()
	c := NewController(policy, p.source, p.setter, p.cfg, p.observer, p.logger)
	if _, loaded := p.controllers.LoadOrStore(cpu, c); loaded {
		return fmt.Errorf("init cpu %d: %w", cpu, ErrAlreadyManaged)
	}
	p.logger.V(5).Info("cpu initialized", "cpuID", cpu,
		"minFreq", policy.MinFreq(), "maxFreq", policy.MaxFreq(), "curFreq", policy.CurrentFreq())
	return nil
}

// Exit останавливает контур ядра и удаляет его из реестра
func (p *Predictive) Exit(cpu int) error {
	value, found := p.controllers.LoadAndDelete(cpu)
	if !found {
		return fmt.Errorf("exit cpu %d: %w", cpu, ErrNotManaged)
	}
	value.(*Controller).Close()
	p.logger.V(5).Info("cpu released", "cpuID", cpu)
	return nil
}

// Start запускает цикл ядра
func (p *Predictive) Start(cpu int) error {
	c, ok := p.controller(cpu)
	if !ok {
		return fmt.Errorf("start cpu %d: %w", cpu, ErrNotManaged)
	}
	c.Start()
	return nil
}

// Stop останавливает цикл ядра, сохраняя модель
func (p *Predictive) Stop(cpu int) error {
	c, ok := p.controller(cpu)
	if !ok {
		return fmt.Errorf("stop cpu %d: %w", cpu, ErrNotManaged)
	}
	c.Stop()
	return nil
}

// Limits применяет изменившиеся лимиты политики. Неизвестное ядро игнорируется.
func (p *Predictive) Limits(cpu int) {
	if c, ok := p.controller(cpu); ok {
		c.Limits()
	}
}

// Cores возвращает отсортированный список управляемых ядер
func (p *Predictive) Cores() []int {
	cores := make([]int, 0)
	p.controllers.Range(func(key, value any) bool {
		cores = append(cores, key.(int))
		return true
	})
	sort.Ints(cores)
	return cores
}

// Status возвращает снимок состояния ядра
func (p *Predictive) Status(cpu int) (Status, bool) {
	c, ok := p.controller(cpu)
	if !ok {
		return Status{}, false
	}
	return c.Status(), true
}

// Statuses возвращает снимки всех ядер по возрастанию номера
func (p *Predictive) Statuses() []Status {
	cores := p.Cores()
	out := make([]Status, 0, len(cores))
	for _, cpu := range cores {
		if st, ok := p.Status(cpu); ok {
			out = append(out, st)
		}
	}
	return out
}

// Shutdown освобождает все ядра
func (p *Predictive) Shutdown() {
	p.logger.V(5).Info("stopping all controllers")
	for _, cpu := range p.Cores() {
		_ = p.Exit(cpu)
	}
}

func (p *Predictive) controller(cpu int) (*Controller, bool) {
	if value, found := p.controllers.Load(cpu); found {
		return value.(*Controller), true
	}
	return nil, false
}
