package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tmarlin/clipharvest/internal/domain"
)

func testThresholds() Thresholds {
	return Thresholds{
		MemoryPausePercent:  85,
		MemoryResumePercent: 75,
		DiskPauseFreeGB:     1,
		DiskResumeFreeGB:    2,
	}
}

// scriptedSampler replays a fixed sequence of memory readings.
func scriptedSampler(memPercents *[]float64) SampleFunc {
	return func() (domain.ResourceSample, error) {
		seq := *memPercents
		if len(seq) == 0 {
			return domain.ResourceSample{MemoryPercent: 50, FreeDiskGB: 100, Timestamp: time.Now()}, nil
		}
		next := seq[0]
		*memPercents = seq[1:]
		return domain.ResourceSample{MemoryPercent: next, FreeDiskGB: 100, Timestamp: time.Now()}, nil
	}
}

func TestMonitor_AdmissionHysteresis(t *testing.T) {
	t.Run("pauses above pause threshold", func(t *testing.T) {
		seq := []float64{90}
		m := NewMonitor(scriptedSampler(&seq), testThresholds(), time.Minute, 1)

		m.refresh()

		assert.False(t, m.Admits())
	})

	t.Run("stays paused while oscillating between resume and pause", func(t *testing.T) {
		seq := []float64{90, 80, 84, 78, 83, 76}
		m := NewMonitor(scriptedSampler(&seq), testThresholds(), time.Minute, 1)

		m.refresh() // 90: pause
		assert.False(t, m.Admits())

		// Every reading here is below the pause threshold but above the
		// resume threshold; admission must stay blocked.
		for i := 0; i < 5; i++ {
			m.refresh()
			assert.False(t, m.Admits(), "reading %d should not resume admissions", i)
		}
	})

	t.Run("resumes at or below resume threshold", func(t *testing.T) {
		seq := []float64{90, 80, 75}
		m := NewMonitor(scriptedSampler(&seq), testThresholds(), time.Minute, 1)

		m.refresh()
		m.refresh()
		assert.False(t, m.Admits())

		m.refresh() // 75 == resume threshold
		assert.True(t, m.Admits())
	})

	t.Run("low disk pauses even with low memory", func(t *testing.T) {
		m := NewMonitor(func() (domain.ResourceSample, error) {
			return domain.ResourceSample{MemoryPercent: 10, FreeDiskGB: 0.5}, nil
		}, testThresholds(), time.Minute, 1)

		m.refresh()

		assert.False(t, m.Admits())
	})
}

func TestMonitor_Smoothing(t *testing.T) {
	// One spike inside a window of calm readings must not trip the pause
	// threshold once averaged.
	seq := []float64{50, 50, 99, 50, 50}
	m := NewMonitor(scriptedSampler(&seq), testThresholds(), time.Minute, 5)

	for i := 0; i < 5; i++ {
		m.refresh()
	}

	assert.True(t, m.Admits())
	assert.InDelta(t, 50.0, m.Sample().MemoryPercent, 1e-9, "latest sample is the raw reading")
}

func TestMonitor_SampleFailureKeepsState(t *testing.T) {
	calls := 0
	m := NewMonitor(func() (domain.ResourceSample, error) {
		calls++
		if calls == 1 {
			return domain.ResourceSample{MemoryPercent: 90, FreeDiskGB: 100}, nil
		}
		return domain.ResourceSample{}, errors.New("proc read failed")
	}, testThresholds(), time.Minute, 1)

	m.refresh()
	m.refresh()

	assert.False(t, m.Admits(), "failed reads keep the previous decision")
}

func TestMonitor_StartStop(t *testing.T) {
	m := NewMonitor(func() (domain.ResourceSample, error) {
		return domain.ResourceSample{MemoryPercent: 40, FreeDiskGB: 100, Timestamp: time.Now()}, nil
	}, testThresholds(), 10*time.Millisecond, 0)

	m.Start(t.Context())
	defer m.Stop()

	assert.True(t, m.Admits())
	assert.False(t, m.Sample().Timestamp.IsZero(), "initial sample taken synchronously")
}
