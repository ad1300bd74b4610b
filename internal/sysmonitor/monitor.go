// Package sysmonitor periodically samples process resource usage and
// publishes it onto the broker's "$system" object, container-aware where
// cgroup data is available and falling back to gopsutil otherwise.
package sysmonitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/objtalk/objtalkd/internal/broker"
	"github.com/objtalk/objtalkd/internal/metrics"
)

// Sample is the most recently collected resource reading.
type Sample struct {
	CPUPercent  float64
	MemoryBytes int64
	Goroutines  int
}

// Monitor samples CPU/memory/goroutine counts on a fixed interval and
// patches them into the broker's "$system" object.
type Monitor struct {
	broker   *broker.Broker
	interval time.Duration
	cgroup   *cgroupCPU // nil if no cgroup could be detected

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	last    Sample
	sampled bool
}

// New constructs a Monitor for b, sampling every interval. cgroup CPU
// accounting is attempted once; failure (e.g. running outside a
// container) silently falls back to gopsutil's host-wide CPU percentage.
func New(b *broker.Broker, interval time.Duration) *Monitor {
	cg, _ := detectCgroupCPU()
	return &Monitor{broker: b, interval: interval, cgroup: cg}
}

// Start begins the sampling loop in a background goroutine. Stop ends it.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.sample()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cpuPercent := m.cpuPercent()
	goroutines := runtime.NumGoroutine()
	patch := map[string]interface{}{
		"cpu":         cpuPercent,
		"memoryBytes": int64(mem.Alloc),
		"goroutines":  goroutines,
	}
	m.broker.PatchSystem(patch)

	metrics.CPUPercent.Set(cpuPercent)
	metrics.MemoryBytes.Set(float64(mem.Alloc))

	m.mu.Lock()
	m.last = Sample{CPUPercent: cpuPercent, MemoryBytes: int64(mem.Alloc), Goroutines: goroutines}
	m.sampled = true
	m.mu.Unlock()
}

// LastSample returns the most recently collected reading, or ok=false if
// sampling hasn't run yet.
func (m *Monitor) LastSample() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.sampled
}

func (m *Monitor) cpuPercent() float64 {
	if m.cgroup != nil {
		delta, err := m.cgroup.deltaSeconds()
		if err == nil {
			allocated := m.cgroup.allocatedCPUs()
			if allocated == 0 {
				allocated = float64(runtime.NumCPU())
			}
			return (delta / m.interval.Seconds()) / allocated * 100
		}
	}

	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}
