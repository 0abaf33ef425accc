package domain

import "fmt"

type TargetMode string

const (
	// TargetModeCount stops the batch after a number of accepted clips.
	TargetModeCount TargetMode = "count"
	// TargetModeDuration stops the batch after a cumulative number of
	// accepted hours.
	TargetModeDuration TargetMode = "duration"
)

// Target is the batch completion goal. The two modes are mutually
// exclusive; Validate rejects a target that sets both or neither.
type Target struct {
	Mode        TargetMode
	MaxClips    int
	TargetHours float64
}

func CountTarget(maxClips int) Target {
	return Target{Mode: TargetModeCount, MaxClips: maxClips}
}

func DurationTarget(hours float64) Target {
	return Target{Mode: TargetModeDuration, TargetHours: hours}
}

func (t Target) Validate() error {
	switch t.Mode {
	case TargetModeCount:
		if t.MaxClips <= 0 {
			return fmt.Errorf("count target requires a positive clip count, got %d", t.MaxClips)
		}
		if t.TargetHours != 0 {
			return fmt.Errorf("count target must not set target hours")
		}
	case TargetModeDuration:
		if t.TargetHours <= 0 {
			return fmt.Errorf("duration target requires positive hours, got %g", t.TargetHours)
		}
		if t.MaxClips != 0 {
			return fmt.Errorf("duration target must not set a clip count")
		}
	default:
		return fmt.Errorf("unknown target mode: %q", t.Mode)
	}
	return nil
}

// Reached reports whether the accepted totals satisfy the target.
func (t Target) Reached(acceptedCount int, acceptedSeconds float64) bool {
	switch t.Mode {
	case TargetModeCount:
		return acceptedCount >= t.MaxClips
	case TargetModeDuration:
		return acceptedSeconds >= t.TargetHours*3600
	}
	return false
}
