package cpufreq

import (
	"sync"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
)

var (
	_ governor.Policy = (*Policy)(nil)
	_ governor.Policy = (*StaticPolicy)(nil)
)

// Policy — политика частоты ядра, прочитанная из sysfs.
// Лимиты — scaling_min_freq/scaling_max_freq (при отсутствии cpuinfo_*), перечитываются Refresh.
type Policy struct {
	fs  *Sysfs
	cpu int

	mu      sync.RWMutex
	min     uint32
	max     uint32
	lastCur uint32
	table   []uint32
}

// LoadPolicy читает политику ядра cpu
func LoadPolicy(fs *Sysfs, cpu int) (*Policy, error) {
	p := &Policy{fs: fs, cpu: cpu}
	if err := p.Refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

// Refresh перечитывает лимиты, таблицу частот и текущую частоту
func (p *Policy) Refresh() error {
	min, err := p.readLimit("scaling_min_freq", "cpuinfo_min_freq")
	if err != nil {
		return err
	}
	max, err := p.readLimit("scaling_max_freq", "cpuinfo_max_freq")
	if err != nil {
		return err
	}
	table, err := p.fs.AvailableFrequencies(p.cpu)
	if err != nil {
		return err
	}
	cur, err := p.fs.CurrentFrequency(p.cpu)
	if err != nil {
		cur = min
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.min, p.max, p.table, p.lastCur = min, max, table, cur
	return nil
}

func (p *Policy) readLimit(resource, fallback string) (uint32, error) {
	v, err := p.fs.readFreq(p.cpu, resource)
	if err == nil {
		return v, nil
	}
	return p.fs.readFreq(p.cpu, fallback)
}

func (p *Policy) CPU() int { return p.cpu }

func (p *Policy) MinFreq() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.min
}

func (p *Policy) MaxFreq() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.max
}

// CurrentFreq читает scaling_cur_freq; при ошибке чтения возвращает последнее известное значение
func (p *Policy) CurrentFreq() uint32 {
	cur, err := p.fs.CurrentFrequency(p.cpu)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.lastCur = cur
	}
	return p.lastCur
}

// Table возвращает копию таблицы допустимых частот (nil — непрерывный диапазон)
func (p *Policy) Table() []uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]uint32(nil), p.table...)
}

func (p *Policy) NearestLegal(target uint32, rel governor.Relation) uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Quantize(p.table, p.min, p.max, target, rel)
}

// StaticPolicy — политика в памяти: для dry run и тестов
type StaticPolicy struct {
	cpu   int
	min   uint32
	max   uint32
	table []uint32

	mu  sync.Mutex
	cur uint32
}

// NewStaticPolicy создаёт политику; table должна быть отсортирована по возрастанию
func NewStaticPolicy(cpu int, min, max, cur uint32, table ...uint32) *StaticPolicy {
	return &StaticPolicy{cpu: cpu, min: min, max: max, cur: cur, table: table}
}

func (p *StaticPolicy) CPU() int        { return p.cpu }
func (p *StaticPolicy) MinFreq() uint32 { return p.min }
func (p *StaticPolicy) MaxFreq() uint32 { return p.max }

func (p *StaticPolicy) CurrentFreq() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// SetCurrent задаёт текущую частоту (её «применяет» DryRunSetter)
func (p *StaticPolicy) SetCurrent(freq uint32) {
	p.mu.Lock()
	p.cur = freq
	p.mu.Unlock()
}

func (p *StaticPolicy) NearestLegal(target uint32, rel governor.Relation) uint32 {
	return Quantize(p.table, p.min, p.max, target, rel)
}
