package port

import (
	"context"

	"github.com/tmarlin/clipharvest/internal/domain"
)

// Transcoder normalizes a downloaded clip to the delivery spec. A
// *domain.TranscodeError marks the input as permanently unprocessable;
// a *domain.TransientError is retried by the scheduler.
type Transcoder interface {
	Normalize(ctx context.Context, inputPath, outputPath string, spec domain.TargetSpec) error
}

// AnalyzeOptions bounds the cost of frame sampling on long clips.
type AnalyzeOptions struct {
	// SampleFPS is the frame sampling rate for content checks.
	SampleFPS float64
	// MaxFrames caps the number of sampled frames; 0 means no cap.
	MaxFrames int
}

// ClipAnalyzer probes stream properties and extracts sampled grayscale
// frames for the validation pipeline.
type ClipAnalyzer interface {
	Analyze(ctx context.Context, path string, opts AnalyzeOptions) (*domain.ClipInfo, error)
}
