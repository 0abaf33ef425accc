package domain

// Check failure reasons reported by the validation pipeline.
const (
	ReasonFormatMismatch     = "format_mismatch"
	ReasonResolutionTooLow   = "resolution_too_low"
	ReasonFPSTooLow          = "fps_too_low"
	ReasonDurationTooShort   = "duration_too_short"
	ReasonCutSceneDetected   = "cut_scene_detected"
	ReasonTextOverlay        = "text_overlay_detected"
	ReasonUnrealisticPhysics = "unrealistic_physics"
)

// CheckFailure records one failed check with a human-readable reason.
type CheckFailure struct {
	Check  string
	Reason string
	Detail string
}

// ValidationVerdict is the immutable outcome of the validation pipeline for
// one clip. Passed is true only when Failures is empty.
type ValidationVerdict struct {
	Passed   bool
	Failures []CheckFailure
}

// Reasons returns the failure reason codes in check order.
func (v ValidationVerdict) Reasons() []string {
	if len(v.Failures) == 0 {
		return nil
	}
	reasons := make([]string, 0, len(v.Failures))
	for _, f := range v.Failures {
		reasons = append(reasons, f.Reason)
	}
	return reasons
}
