//go:build linux

package sysinfo

import "golang.org/x/sys/unix"

// maxCPUs — размер unix.CPUSet в битах
const maxCPUs = 1024

// MonotonicNanos возвращает CLOCK_MONOTONIC в наносекундах
func MonotonicNanos() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNanos()
	}
	return uint64(ts.Nano())
}

// OnlineCPUs возвращает ядра, на которых разрешено выполнение процесса (sched_getaffinity)
func OnlineCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	cpus := make([]int, 0, set.Count())
	for i := 0; i < maxCPUs; i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
