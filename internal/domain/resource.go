package domain

import "time"

// ResourceSample is one point-in-time reading of host usage. Samples are
// ephemeral: produced by the monitor's background loop, consumed by the
// scheduler's admission check, never persisted.
type ResourceSample struct {
	CPUPercent    float64
	MemoryPercent float64
	FreeDiskGB    float64
	Timestamp     time.Time
}
