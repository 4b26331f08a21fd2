// Package cpufreq — доступ к Linux cpufreq через sysfs: политики частоты ядер
// и установка частоты через governor userspace.
package cpufreq

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
)

const (
	// DefaultRoot — каталог ядер в sysfs
	DefaultRoot       = "/sys/devices/system/cpu"
	userspaceGovernor = "userspace"
)

// Sysfs читает и пишет файлы cpufreq под Root (cpuN/cpufreq/<resource>)
type Sysfs struct {
	Root string
}

// NewSysfs возвращает доступ к sysfs; пустой root — DefaultRoot
func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = DefaultRoot
	}
	return &Sysfs{Root: root}
}

func (s *Sysfs) path(cpu int, resource string) string {
	return filepath.Join(s.Root, fmt.Sprintf("cpu%d", cpu), "cpufreq", resource)
}

func (s *Sysfs) readString(cpu int, resource string) (string, error) {
	data, err := os.ReadFile(s.path(cpu, resource))
	if err != nil {
		return "", fmt.Errorf("failed to read %s for cpu %d: %w", resource, cpu, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Sysfs) readFreq(cpu int, resource string) (uint32, error) {
	str, err := s.readString(cpu, resource)
	if err != nil {
		return 0, err
	}
	freq, err := strconv.ParseUint(str, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s for cpu %d: %w", resource, cpu, err)
	}
	return uint32(freq), nil
}

// CurrentFrequency возвращает текущую частоту ядра в кГц (scaling_cur_freq)
func (s *Sysfs) CurrentFrequency(cpu int) (uint32, error) {
	return s.readFreq(cpu, "scaling_cur_freq")
}

// AvailableFrequencies возвращает таблицу допустимых частот по возрастанию.
// Если драйвер таблицу не публикует, возвращает nil без ошибки.
func (s *Sysfs) AvailableFrequencies(cpu int) ([]uint32, error) {
	str, err := s.readString(cpu, "scaling_available_frequencies")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var table []uint32
	for _, field := range strings.Fields(str) {
		f, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse available frequency %q for cpu %d: %w", field, cpu, err)
		}
		table = append(table, uint32(f))
	}
	sort.Slice(table, func(i, j int) bool { return table[i] < table[j] })
	return table, nil
}

// Governor возвращает имя текущего scaling governor ядра
func (s *Sysfs) Governor(cpu int) (string, error) {
	return s.readString(cpu, "scaling_governor")
}

// SetGovernor переключает scaling governor ядра
func (s *Sysfs) SetGovernor(cpu int, name string) error {
	if err := os.WriteFile(s.path(cpu, "scaling_governor"), []byte(name), 0644); err != nil {
		return fmt.Errorf("failed to set governor %s for cpu %d: %w", name, cpu, err)
	}
	return nil
}

// SetSpeed записывает частоту в scaling_setspeed. Требует governor userspace.
func (s *Sysfs) SetSpeed(cpu int, freq uint32) error {
	gov, err := s.Governor(cpu)
	if err != nil {
		return err
	}
	if gov != userspaceGovernor {
		return fmt.Errorf("userspace governor not set for cpu %d (current %q)", cpu, gov)
	}
	if err := os.WriteFile(s.path(cpu, "scaling_setspeed"), []byte(strconv.FormatUint(uint64(freq), 10)), 0644); err != nil {
		return fmt.Errorf("failed to set frequency for cpu %d: %w", cpu, err)
	}
	return nil
}

// Quantize приводит target к допустимой частоте в пределах [min, max].
// Пустая таблица означает непрерывный диапазон.
func Quantize(table []uint32, min, max, target uint32, rel governor.Relation) uint32 {
	if target < min {
		target = min
	}
	if target > max {
		target = max
	}
	var legal []uint32
	for _, f := range table {
		if f >= min && f <= max {
			legal = append(legal, f)
		}
	}
	if len(legal) == 0 {
		return target
	}

	if rel == governor.RoundUp {
		for _, f := range legal {
			if f >= target {
				return f
			}
		}
		return legal[len(legal)-1]
	}
	for i := len(legal) - 1; i >= 0; i-- {
		if legal[i] <= target {
			return legal[i]
		}
	}
	return legal[0]
}
