package validate

import (
	"fmt"
	"math"

	"github.com/tmarlin/clipharvest/internal/domain"
)

// MotionClassifier estimates apparent motion between two consecutive
// sampled frames, in pixels per second at analysis resolution. Pluggable so
// an ML-backed model can replace the built-in block-matching heuristic.
type MotionClassifier interface {
	Flow(prev, cur domain.Frame) float64
}

// PhysicsCheck flags clips with implausible motion: MinViolations or more
// frame pairs whose estimated flow exceeds FlowThreshold fail the clip.
type PhysicsCheck struct {
	Classifier    MotionClassifier
	FlowThreshold float64
	MinViolations int
}

func (c PhysicsCheck) Name() string { return "physics" }

func (c PhysicsCheck) Check(info *domain.ClipInfo) *domain.CheckFailure {
	classifier := c.Classifier
	if classifier == nil {
		classifier = BlockMotionEstimator{}
	}
	minViolations := c.MinViolations
	if minViolations < 1 {
		minViolations = 1
	}

	var violations int
	for i := 1; i < len(info.Frames); i++ {
		prev, cur := info.Frames[i-1], info.Frames[i]
		if !sameShape(&prev, &cur) {
			continue
		}
		if classifier.Flow(prev, cur) > c.FlowThreshold {
			violations++
			if violations >= minViolations {
				return &domain.CheckFailure{
					Check:  c.Name(),
					Reason: domain.ReasonUnrealisticPhysics,
					Detail: fmt.Sprintf("motion above %.1f px/s at %d or more points", c.FlowThreshold, violations),
				}
			}
		}
	}
	return nil
}

// BlockMotionEstimator measures motion by block matching: a grid of luma
// blocks from the previous frame is searched for in the current frame, and
// the largest confident displacement, divided by the inter-frame interval,
// is the flow estimate.
type BlockMotionEstimator struct{}

const (
	blockSize    = 16
	searchRadius = 12
	searchStep   = 2
)

func (BlockMotionEstimator) Flow(prev, cur domain.Frame) float64 {
	dt := cur.Timestamp - prev.Timestamp
	if dt <= 0 {
		return 0
	}

	var maxDisp float64
	for by := searchRadius; by+blockSize+searchRadius <= prev.Height; by += blockSize * 2 {
		for bx := searchRadius; bx+blockSize+searchRadius <= prev.Width; bx += blockSize * 2 {
			still := blockSAD(prev, cur, bx, by, 0, 0)
			if still == 0 {
				continue
			}

			best := still
			bestDX, bestDY := 0, 0
			for dy := -searchRadius; dy <= searchRadius; dy += searchStep {
				for dx := -searchRadius; dx <= searchRadius; dx += searchStep {
					if dx == 0 && dy == 0 {
						continue
					}
					if sad := blockSAD(prev, cur, bx, by, dx, dy); sad < best {
						best = sad
						bestDX, bestDY = dx, dy
					}
				}
			}

			// Require a clear SAD improvement so flat texture does not
			// produce spurious large displacements.
			if best*5 >= still*4 {
				continue
			}
			disp := float64(bestDX*bestDX + bestDY*bestDY)
			if disp > maxDisp {
				maxDisp = disp
			}
		}
	}

	return math.Sqrt(maxDisp) / dt
}

// blockSAD sums absolute luma differences between a block at (bx,by) in
// prev and the block displaced by (dx,dy) in cur.
func blockSAD(prev, cur domain.Frame, bx, by, dx, dy int) int {
	var sad int
	for y := 0; y < blockSize; y++ {
		prevRow := (by + y) * prev.Width
		curRow := (by + y + dy) * cur.Width
		for x := 0; x < blockSize; x++ {
			a := int(prev.Luma[prevRow+bx+x])
			b := int(cur.Luma[curRow+bx+x+dx])
			if a > b {
				sad += a - b
			} else {
				sad += b - a
			}
		}
	}
	return sad
}
