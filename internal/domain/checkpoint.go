package domain

import "time"

// Outcome is the archived terminal state of a processed descriptor.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// BatchCheckpoint is the durable progress record of one batch run. The
// scheduler is its sole mutator; workers never touch it. It is persisted
// after every terminal task outcome and loaded once at batch start.
type BatchCheckpoint struct {
	BatchID   string
	CreatedAt time.Time
	UpdatedAt time.Time
	Target    Target

	AcceptedCount   int
	AcceptedSeconds float64
	RejectedCount   int
	FailedCount     int

	// RejectionReasons counts validation failure reasons across the batch,
	// for operator diagnostics.
	RejectionReasons map[string]int

	// Processed maps descriptor keys to their terminal outcome. A key is
	// recorded exactly once; re-enqueuing a processed descriptor is a no-op.
	Processed map[string]Outcome

	// Cursors holds the opaque per-source pagination cursor, restored into
	// each adapter on resume.
	Cursors map[string]string
}

func NewBatchCheckpoint(batchID string, target Target) *BatchCheckpoint {
	now := time.Now().UTC()
	return &BatchCheckpoint{
		BatchID:          batchID,
		CreatedAt:        now,
		UpdatedAt:        now,
		Target:           target,
		RejectionReasons: make(map[string]int),
		Processed:        make(map[string]Outcome),
		Cursors:          make(map[string]string),
	}
}

// Seen reports whether the descriptor key already has a terminal outcome.
func (c *BatchCheckpoint) Seen(key string) bool {
	_, ok := c.Processed[key]
	return ok
}

// Record archives a terminal outcome for a descriptor. Accepted totals only
// ever grow, and only on the first record of a key; duplicate records are
// ignored so a replayed result cannot double-count.
func (c *BatchCheckpoint) Record(key string, outcome Outcome, seconds float64, reasons []string) bool {
	if c.Seen(key) {
		return false
	}
	c.Processed[key] = outcome
	switch outcome {
	case OutcomeAccepted:
		c.AcceptedCount++
		c.AcceptedSeconds += seconds
	case OutcomeRejected:
		c.RejectedCount++
		for _, r := range reasons {
			c.RejectionReasons[r]++
		}
	case OutcomeFailed:
		c.FailedCount++
	}
	c.UpdatedAt = time.Now().UTC()
	return true
}

// TargetReached reports whether the batch goal is satisfied.
func (c *BatchCheckpoint) TargetReached() bool {
	return c.Target.Reached(c.AcceptedCount, c.AcceptedSeconds)
}

// Clone returns a deep copy, used to hand a consistent snapshot to the
// checkpoint store while the scheduler keeps mutating the original.
func (c *BatchCheckpoint) Clone() *BatchCheckpoint {
	cp := *c
	cp.RejectionReasons = make(map[string]int, len(c.RejectionReasons))
	for k, v := range c.RejectionReasons {
		cp.RejectionReasons[k] = v
	}
	cp.Processed = make(map[string]Outcome, len(c.Processed))
	for k, v := range c.Processed {
		cp.Processed[k] = v
	}
	cp.Cursors = make(map[string]string, len(c.Cursors))
	for k, v := range c.Cursors {
		cp.Cursors[k] = v
	}
	return &cp
}
