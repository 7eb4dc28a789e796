// Package sysmetrics measures the CPU and memory a piece of work consumes.
package sysmetrics

import (
	"runtime"
	"syscall"
	"time"
)

// Usage is the resource cost of the work between Start and Stop.
type Usage struct {
	Wall       time.Duration
	CPU        time.Duration // user + system time
	CPUPercent float64       // CPU / Wall * 100; exceeds 100 on several cores
	MemInuse   int64         // heap and stack in use when measured
}

// Meter is a running measurement.
type Meter struct {
	wall time.Time
	cpu  time.Duration
}

// Start begins a measurement.
func Start() *Meter {
	return &Meter{wall: time.Now(), cpu: cpuTime()}
}

// Stop ends the measurement. A Meter may be stopped more than once; each
// call measures from Start.
func (m *Meter) Stop() Usage {
	u := Usage{
		Wall:     time.Since(m.wall),
		CPU:      cpuTime() - m.cpu,
		MemInuse: MemoryInuse(),
	}
	if u.Wall > 0 {
		u.CPUPercent = float64(u.CPU) / float64(u.Wall) * 100.0
	}
	return u
}

// MemoryInuse returns the memory actively in use by the Go runtime, in
// bytes. This is HeapInuse (live heap spans) plus StackInuse (goroutine
// stacks), excluding virtual address space reserved but not committed.
func MemoryInuse() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapInuse + m.StackInuse)
}

func cpuTime() time.Duration {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	return time.Duration(rusage.Utime.Nano()) + time.Duration(rusage.Stime.Nano())
}
