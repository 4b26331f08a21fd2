package cpufreq

import (
	"github.com/go-logr/logr"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
)

var (
	_ governor.FrequencySetter = (*Setter)(nil)
	_ governor.FrequencySetter = (*DryRunSetter)(nil)
)

// Setter применяет частоту через scaling_setspeed.
// Частота уже квантована политикой, rel только логируется.
type Setter struct {
	fs     *Sysfs
	logger logr.Logger
}

func NewSetter(fs *Sysfs, logger logr.Logger) *Setter {
	return &Setter{fs: fs, logger: logger.WithName("cpufreq")}
}

func (s *Setter) SetFrequency(cpu int, freq uint32, rel governor.Relation) error {
	if err := s.fs.SetSpeed(cpu, freq); err != nil {
		return err
	}
	s.logger.V(5).Info("frequency set", "cpuID", cpu, "freq", freq, "relation", rel.String())
	return nil
}

// EnsureUserspace включает governor userspace на ядре, если он ещё не активен
func (s *Setter) EnsureUserspace(cpu int) error {
	gov, err := s.fs.Governor(cpu)
	if err != nil {
		return err
	}
	if gov == userspaceGovernor {
		return nil
	}
	s.logger.Info("switching governor", "cpuID", cpu, "from", gov, "to", userspaceGovernor)
	return s.fs.SetGovernor(cpu, userspaceGovernor)
}

// PolicyLookup находит политику ядра
type PolicyLookup func(cpu int) (*StaticPolicy, bool)

// DryRunSetter ничего не пишет в sysfs: логирует решение и, если политика
// найдена, обновляет её текущую частоту.
type DryRunSetter struct {
	logger logr.Logger
	lookup PolicyLookup
}

func NewDryRunSetter(logger logr.Logger, lookup PolicyLookup) *DryRunSetter {
	return &DryRunSetter{logger: logger.WithName("dry-run"), lookup: lookup}
}

func (s *DryRunSetter) SetFrequency(cpu int, freq uint32, rel governor.Relation) error {
	s.logger.Info("would set frequency", "cpuID", cpu, "freq", freq, "relation", rel.String())
	if s.lookup == nil {
		return nil
	}
	if p, ok := s.lookup(cpu); ok {
		p.SetCurrent(freq)
	}
	return nil
}
