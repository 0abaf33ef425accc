package validate

import (
	"fmt"

	"github.com/tmarlin/clipharvest/internal/domain"
)

// CutSceneCheck flags clips containing hard cuts. For each adjacent pair of
// sampled frames it computes the fraction of luma pixels whose absolute
// difference exceeds pixelDelta; a fraction above Threshold counts as one
// scene change, and MinScenes or more scene changes fail the clip.
type CutSceneCheck struct {
	// Threshold is the changed-pixel fraction above which a frame pair is
	// counted as a scene change.
	Threshold float64
	// MinScenes is the number of scene changes required to fail.
	MinScenes int
	// Stride compares every Nth sampled frame to bound cost on long clips.
	// Values below 1 are treated as 1.
	Stride int
}

const pixelDelta = 25

func (c CutSceneCheck) Name() string { return "cut_scene" }

func (c CutSceneCheck) Check(info *domain.ClipInfo) *domain.CheckFailure {
	stride := c.Stride
	if stride < 1 {
		stride = 1
	}
	minScenes := c.MinScenes
	if minScenes < 1 {
		minScenes = 1
	}

	var sceneChanges int
	var prev *domain.Frame
	for i := 0; i < len(info.Frames); i += stride {
		frame := &info.Frames[i]
		if prev != nil && sameShape(prev, frame) {
			if frameDiffFraction(prev.Luma, frame.Luma) > c.Threshold {
				sceneChanges++
				if sceneChanges >= minScenes {
					break
				}
			}
		}
		prev = frame
	}

	if sceneChanges >= minScenes {
		return &domain.CheckFailure{
			Check:  c.Name(),
			Reason: domain.ReasonCutSceneDetected,
			Detail: fmt.Sprintf("scene changes detected at %d or more points (threshold %.2f)", sceneChanges, c.Threshold),
		}
	}
	return nil
}

func sameShape(a, b *domain.Frame) bool {
	return a.Width == b.Width && a.Height == b.Height && len(a.Luma) == len(b.Luma)
}

// frameDiffFraction returns the fraction of pixels that changed by more
// than pixelDelta between two equally sized luma planes.
func frameDiffFraction(a, b []uint8) float64 {
	if len(a) == 0 {
		return 0
	}
	var changed int
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		if d > pixelDelta {
			changed++
		}
	}
	return float64(changed) / float64(len(a))
}
