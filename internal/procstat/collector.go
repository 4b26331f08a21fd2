// Package procstat — источник метрик ядра из procfs (/proc/stat, /proc/interrupts).
package procstat

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/prometheus/procfs"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/predict"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/sysinfo"
)

// userHZ — тиков в секунде; procfs переводит jiffies в секунды по этой же константе
const userHZ = 100

// interruptsPID — процесс, через который читается /proc/<pid>/interrupts (совпадает с /proc/interrupts)
const interruptsPID = 1

// ErrUnknownCPU — ядра нет в /proc/stat
var ErrUnknownCPU = errors.New("cpu not found in /proc/stat")

// FrequencyReader возвращает текущую частоту ядра в кГц
type FrequencyReader interface {
	CurrentFrequency(cpu int) (uint32, error)
}

type snapshot struct {
	times procfs.CPUStat
	irq   uint64
	ctxt  uint64
}

// Collector строит сэмплы по приращениям счётчиков между двумя вызовами для одного ядра.
// Первый сэмпл ядра считается от загрузки системы. Безопасен для конкурентного вызова.
type Collector struct {
	fs   procfs.FS
	freq FrequencyReader
	now  func() uint64

	mu   sync.Mutex
	prev map[int]snapshot
}

// New открывает procfs в mountPoint (пусто — /proc). freq может быть nil.
func New(mountPoint string, freq FrequencyReader) (*Collector, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mountPoint, err)
	}
	return &Collector{
		fs:   fs,
		freq: freq,
		now:  sysinfo.MonotonicNanos,
		prev: make(map[int]snapshot),
	}, nil
}

// Sample возвращает метрики ядра cpu за интервал с предыдущего вызова.
// ContextSwitches и Runnable — общесистемные: procfs не даёт их по ядрам.
func (c *Collector) Sample(cpu int) (predict.Sample, error) {
	stat, err := c.fs.Stat()
	if err != nil {
		return predict.Sample{}, fmt.Errorf("read stat: %w", err)
	}
	times, ok := stat.CPU[int64(cpu)]
	if !ok {
		return predict.Sample{}, fmt.Errorf("cpu %d: %w", cpu, ErrUnknownCPU)
	}
	cur := snapshot{times: times, irq: c.irqCount(cpu), ctxt: stat.ContextSwitches}

	c.mu.Lock()
	prev, seen := c.prev[cpu]
	c.prev[cpu] = cur
	c.mu.Unlock()

	s := predict.Sample{
		Timestamp: c.now(),
		Runnable:  saturate(stat.ProcessesRunning),
	}
	delta := cur.times
	if seen {
		delta = sub(cur.times, prev.times)
		s.IRQCount = saturate(counterDelta(cur.irq, prev.irq))
		s.ContextSwitches = saturate(counterDelta(cur.ctxt, prev.ctxt))
		if delta.Idle > 0 {
			s.IdleDelta = uint64(math.Round(delta.Idle * userHZ))
		}
	}
	s.Utilization, s.IOWait = percentages(delta)

	if c.freq != nil {
		if f, err := c.freq.CurrentFrequency(cpu); err == nil {
			s.Frequency = f
		}
	}
	return s, nil
}

// irqCount — сумма столбца ядра в /proc/interrupts; при ошибке чтения 0.
// Столбец выбирается по номеру ядра, что верно при непрерывной нумерации онлайн-ядер.
func (c *Collector) irqCount(cpu int) uint64 {
	proc, err := c.fs.Proc(interruptsPID)
	if err != nil {
		return 0
	}
	interrupts, err := proc.Interrupts()
	if err != nil {
		return 0
	}
	var total uint64
	for _, irq := range interrupts {
		if cpu >= len(irq.Values) {
			continue
		}
		if v, err := strconv.ParseUint(irq.Values[cpu], 10, 64); err == nil {
			total += v
		}
	}
	return total
}

// percentages возвращает загрузку (всё, кроме idle) и долю iowait в процентах
func percentages(t procfs.CPUStat) (util, iowait uint32) {
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.IRQ + t.SoftIRQ + t.Steal
	if total <= 0 {
		return 0, 0
	}
	return percent((total - t.Idle) / total), percent(t.Iowait / total)
}

func percent(ratio float64) uint32 {
	p := math.Floor(ratio*100 + 1e-9)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return uint32(p)
}

func sub(a, b procfs.CPUStat) procfs.CPUStat {
	return procfs.CPUStat{
		User:    nonNegative(a.User - b.User),
		Nice:    nonNegative(a.Nice - b.Nice),
		System:  nonNegative(a.System - b.System),
		Idle:    nonNegative(a.Idle - b.Idle),
		Iowait:  nonNegative(a.Iowait - b.Iowait),
		IRQ:     nonNegative(a.IRQ - b.IRQ),
		SoftIRQ: nonNegative(a.SoftIRQ - b.SoftIRQ),
		Steal:   nonNegative(a.Steal - b.Steal),
	}
}

// iowait на Linux может убывать
func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func counterDelta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func saturate(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
