package domain

import "time"

// BatchResult is the aggregate surfaced to the caller when a run returns.
type BatchResult struct {
	BatchID          string
	Accepted         int
	Rejected         int
	Failed           int
	AcceptedHours    float64
	Elapsed          time.Duration
	RejectionReasons map[string]int
}

// ResultFromCheckpoint builds the caller-facing aggregate from the last
// persisted checkpoint state.
func ResultFromCheckpoint(c *BatchCheckpoint, elapsed time.Duration) *BatchResult {
	reasons := make(map[string]int, len(c.RejectionReasons))
	for k, v := range c.RejectionReasons {
		reasons[k] = v
	}
	return &BatchResult{
		BatchID:          c.BatchID,
		Accepted:         c.AcceptedCount,
		Rejected:         c.RejectedCount,
		Failed:           c.FailedCount,
		AcceptedHours:    c.AcceptedSeconds / 3600,
		Elapsed:          elapsed,
		RejectionReasons: reasons,
	}
}
