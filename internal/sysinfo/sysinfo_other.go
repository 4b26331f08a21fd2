//go:build !linux

package sysinfo

import "runtime"

// MonotonicNanos — на не-Linux монотонное время процесса
func MonotonicNanos() uint64 {
	return fallbackNanos()
}

// OnlineCPUs — на не-Linux ядра 0..NumCPU-1
func OnlineCPUs() ([]int, error) {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}
