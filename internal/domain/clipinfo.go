package domain

// Frame is one sampled video frame reduced to a small grayscale plane. The
// content checks (cut-scene, text overlay, physics) operate on these so the
// validation pipeline stays pure with respect to its inputs.
type Frame struct {
	Index     int
	Timestamp float64
	Width     int
	Height    int
	Luma      []uint8
}

// ClipInfo is everything the validation pipeline needs to know about a
// downloaded clip: probed stream properties plus sampled frames.
type ClipInfo struct {
	Container  string
	VideoCodec string
	Width      int
	Height     int
	FPS        float64
	Duration   float64 // seconds
	Frames     []Frame
}

// TargetSpec is the normalization target a transcoder produces: container,
// codec, minimum dimensions and frame rate for delivery.
type TargetSpec struct {
	Container  string
	VideoCodec string
	Width      int
	Height     int
	FPS        int
}
