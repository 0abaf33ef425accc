package validate

import (
	"fmt"

	"github.com/tmarlin/clipharvest/internal/domain"
)

// TextDetector scores a single frame for overlaid text. Implementations
// must be deterministic for a given frame. An OCR-backed detector can be
// plugged in; the default is a cheap edge-density heuristic.
type TextDetector interface {
	Confidence(frame domain.Frame) float64
}

// TextOverlayCheck fails a clip when any sampled frame scores above
// MinConfidence for overlaid text (captions, watermarks, titles).
type TextOverlayCheck struct {
	Detector      TextDetector
	MinConfidence float64
	Stride        int
}

func (c TextOverlayCheck) Name() string { return "text_overlay" }

func (c TextOverlayCheck) Check(info *domain.ClipInfo) *domain.CheckFailure {
	stride := c.Stride
	if stride < 1 {
		stride = 1
	}
	detector := c.Detector
	if detector == nil {
		detector = EdgeDensityDetector{}
	}

	for i := 0; i < len(info.Frames); i += stride {
		confidence := detector.Confidence(info.Frames[i])
		if confidence > c.MinConfidence {
			return &domain.CheckFailure{
				Check:  c.Name(),
				Reason: domain.ReasonTextOverlay,
				Detail: fmt.Sprintf("text confidence %.2f at frame %d exceeds %.2f", confidence, info.Frames[i].Index, c.MinConfidence),
			}
		}
	}
	return nil
}

// EdgeDensityDetector approximates text detection without OCR. Rendered
// text produces dense clusters of strong horizontal luma transitions;
// the detector splits the frame into horizontal bands and scores the
// densest band.
type EdgeDensityDetector struct{}

const (
	edgeBands    = 8
	edgeStrength = 40
	// densityScale maps band edge density to confidence; a band where a
	// quarter of the pixels sit on strong edges scores 1.0.
	densityScale = 4.0
)

func (EdgeDensityDetector) Confidence(frame domain.Frame) float64 {
	if frame.Width < 2 || frame.Height < edgeBands {
		return 0
	}

	bandHeight := frame.Height / edgeBands
	var maxDensity float64
	for band := 0; band < edgeBands; band++ {
		var edges int
		top := band * bandHeight
		for y := top; y < top+bandHeight; y++ {
			row := frame.Luma[y*frame.Width : (y+1)*frame.Width]
			for x := 1; x < frame.Width; x++ {
				d := int(row[x]) - int(row[x-1])
				if d < 0 {
					d = -d
				}
				if d > edgeStrength {
					edges++
				}
			}
		}
		density := float64(edges) / float64(bandHeight*(frame.Width-1))
		if density > maxDensity {
			maxDensity = density
		}
	}

	confidence := maxDensity * densityScale
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
