// Package resource samples host CPU, memory, and disk usage in the
// background and exposes the admission signal the scheduler uses to
// throttle new work.
package resource

import (
	"context"
	"sync"
	"time"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/infrastructure/logger"
)

// Thresholds configure admission hysteresis: once usage crosses a pause
// threshold, admission stays blocked until usage is back past the matching
// resume threshold, which prevents oscillation at the boundary.
type Thresholds struct {
	MemoryPausePercent  float64
	MemoryResumePercent float64
	DiskPauseFreeGB     float64
	DiskResumeFreeGB    float64
}

// SampleFunc produces one resource reading. The production implementation
// is SystemSampler; tests inject deterministic functions.
type SampleFunc func() (domain.ResourceSample, error)

type Monitor struct {
	sampler   SampleFunc
	interval  time.Duration
	limits    Thresholds
	windowLen int

	mu       sync.RWMutex
	latest   domain.ResourceSample
	window   []domain.ResourceSample
	smoothed domain.ResourceSample
	paused   bool

	cancel context.CancelFunc
	done   chan struct{}
}

const defaultWindow = 5

// NewMonitor builds a monitor around the given sampler. A windowLen of 0
// uses the default moving-average window.
func NewMonitor(sampler SampleFunc, limits Thresholds, interval time.Duration, windowLen int) *Monitor {
	if windowLen <= 0 {
		windowLen = defaultWindow
	}
	return &Monitor{
		sampler:   sampler,
		interval:  interval,
		limits:    limits,
		windowLen: windowLen,
	}
}

// Start launches the background sampling loop. One sample is taken
// synchronously so Admits has data before the first tick.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.refresh()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refresh()
			}
		}
	}()
}

// Stop terminates the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Sample returns the latest reading. Never blocks on sampling.
func (m *Monitor) Sample() domain.ResourceSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Admits reports whether new fetch or processing work may be admitted. The
// decision is computed on the write side at sample time, so this is a plain
// snapshot read.
func (m *Monitor) Admits() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.paused
}

// refresh takes one sample, updates the moving average, and re-evaluates
// the hysteresis state.
func (m *Monitor) refresh() {
	sample, err := m.sampler()
	if err != nil {
		// Keep the previous admission decision on a failed read rather
		// than flapping.
		logger.Warn.Printf("resource sample failed: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest = sample
	m.window = append(m.window, sample)
	if len(m.window) > m.windowLen {
		m.window = m.window[1:]
	}
	m.smoothed = averageSamples(m.window)

	if m.paused {
		if m.smoothed.MemoryPercent <= m.limits.MemoryResumePercent &&
			m.smoothed.FreeDiskGB >= m.limits.DiskResumeFreeGB {
			m.paused = false
			logger.Info.Printf("resource pressure cleared (mem %.1f%%, %.1f GB free), resuming admissions",
				m.smoothed.MemoryPercent, m.smoothed.FreeDiskGB)
		}
		return
	}

	if m.smoothed.MemoryPercent > m.limits.MemoryPausePercent ||
		m.smoothed.FreeDiskGB < m.limits.DiskPauseFreeGB {
		m.paused = true
		logger.Warn.Printf("resource pressure (mem %.1f%%, %.1f GB free), pausing admissions",
			m.smoothed.MemoryPercent, m.smoothed.FreeDiskGB)
	}
}

func averageSamples(samples []domain.ResourceSample) domain.ResourceSample {
	if len(samples) == 0 {
		return domain.ResourceSample{}
	}
	var avg domain.ResourceSample
	for _, s := range samples {
		avg.CPUPercent += s.CPUPercent
		avg.MemoryPercent += s.MemoryPercent
		avg.FreeDiskGB += s.FreeDiskGB
	}
	n := float64(len(samples))
	avg.CPUPercent /= n
	avg.MemoryPercent /= n
	avg.FreeDiskGB /= n
	avg.Timestamp = samples[len(samples)-1].Timestamp
	return avg
}
