package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/port"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains null byte")
)

// Analysis frames are downscaled to a fixed plane so frame diffs are cheap
// and every clip produces comparable samples.
const (
	analysisWidth  = 320
	analysisHeight = 180

	defaultSampleFPS = 3.0
)

// FFmpeg shells out to the ffmpeg and ffprobe binaries for normalization
// and clip analysis.
type FFmpeg struct{}

func New() *FFmpeg {
	return &FFmpeg{}
}

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

// Normalize re-encodes inputPath into the delivery container, codec,
// resolution and frame rate at outputPath. An ffmpeg exit error marks the
// input permanently unprocessable; failures to launch the process are
// transient.
func (f *FFmpeg) Normalize(ctx context.Context, inputPath, outputPath string, spec domain.TargetSpec) error {
	if err := validatePath(inputPath); err != nil {
		return &domain.TranscodeError{Input: inputPath, Err: fmt.Errorf("invalid input path: %w", err)}
	}
	if err := validatePath(outputPath); err != nil {
		return &domain.TranscodeError{Input: inputPath, Err: fmt.Errorf("invalid output path: %w", err)}
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", normalizeArgs(inputPath, outputPath, spec)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return domain.Transient("transcode", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &domain.TranscodeError{
				Input: inputPath,
				Err:   fmt.Errorf("ffmpeg exited: %w: %s", err, stderrTail(&stderr)),
			}
		}
		return domain.Transient("transcode", err)
	}
	return nil
}

func normalizeArgs(inputPath, outputPath string, spec domain.TargetSpec) []string {
	args := []string{"-i", inputPath}
	args = append(args, codecArgs(spec.VideoCodec)...)
	if spec.Width > 0 && spec.Height > 0 {
		args = append(args, "-vf", scaleFilter(spec.Width, spec.Height))
	}
	if spec.FPS > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", spec.FPS))
	}
	if spec.Container == "mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, "-y", outputPath)
}

// scaleFilter fits the clip inside the target box preserving aspect ratio,
// then pads to the exact dimensions so every delivered clip shares one
// frame size.
func scaleFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		width, height, width, height)
}

func codecArgs(codec string) []string {
	switch codec {
	case "h264", "":
		return []string{"-c:v", "libx264", "-crf", "23", "-preset", "medium", "-c:a", "aac", "-b:a", "128k"}
	case "av1":
		return []string{"-c:v", "libaom-av1", "-crf", "30", "-b:v", "0", "-cpu-used", "4", "-row-mt", "1", "-c:a", "libopus", "-b:a", "128k"}
	default:
		return []string{"-c:v", codec}
	}
}

// Analyze probes stream properties with ffprobe, then extracts grayscale
// frames at opts.SampleFPS for the content checks.
func (f *FFmpeg) Analyze(ctx context.Context, path string, opts port.AnalyzeOptions) (*domain.ClipInfo, error) {
	if err := validatePath(path); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}

	info, err := f.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	sampleFPS := opts.SampleFPS
	if sampleFPS <= 0 {
		sampleFPS = defaultSampleFPS
	}
	frames, err := f.extractFrames(ctx, path, sampleFPS, opts.MaxFrames)
	if err != nil {
		return nil, err
	}
	info.Frames = frames
	return info, nil
}

func (f *FFmpeg) probe(ctx context.Context, path string) (*domain.ClipInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.Transient("probe", ctx.Err())
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	vs := probe.videoStream()
	if vs == nil {
		return nil, fmt.Errorf("no video stream found in %s", path)
	}

	fps := parseFrameRate(vs.AvgFrameRate)
	if fps == 0 {
		fps = parseFrameRate(vs.RFrameRate)
	}
	duration := parseSeconds(probe.Format.Duration)
	if duration == 0 {
		duration = parseSeconds(vs.Duration)
	}

	return &domain.ClipInfo{
		Container:  probe.Format.FormatName,
		VideoCodec: vs.CodecName,
		Width:      vs.Width,
		Height:     vs.Height,
		FPS:        fps,
		Duration:   duration,
	}, nil
}

func (f *FFmpeg) extractFrames(ctx context.Context, path string, sampleFPS float64, maxFrames int) ([]domain.Frame, error) {
	args := []string{
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g,scale=%d:%d", sampleFPS, analysisWidth, analysisHeight),
	}
	if maxFrames > 0 {
		args = append(args, "-frames:v", fmt.Sprintf("%d", maxFrames))
	}
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"-",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, domain.Transient("analyze", ctx.Err())
		}
		return nil, fmt.Errorf("frame extraction failed: %w: %s", err, stderrTail(&stderr))
	}

	return splitFrames(stdout.Bytes(), analysisWidth, analysisHeight, sampleFPS), nil
}

// splitFrames chunks a raw grayscale byte stream into frames. A trailing
// partial frame is discarded.
func splitFrames(raw []byte, width, height int, sampleFPS float64) []domain.Frame {
	frameSize := width * height
	if frameSize == 0 || len(raw) < frameSize {
		return nil
	}
	count := len(raw) / frameSize
	frames := make([]domain.Frame, 0, count)
	for i := 0; i < count; i++ {
		luma := make([]uint8, frameSize)
		copy(luma, raw[i*frameSize:(i+1)*frameSize])
		frames = append(frames, domain.Frame{
			Index:     i,
			Timestamp: float64(i) / sampleFPS,
			Width:     width,
			Height:    height,
			Luma:      luma,
		})
	}
	return frames
}

func stderrTail(buf *bytes.Buffer) string {
	const tail = 512
	s := strings.TrimSpace(buf.String())
	if len(s) > tail {
		s = s[len(s)-tail:]
	}
	return s
}

var (
	_ port.Transcoder   = (*FFmpeg)(nil)
	_ port.ClipAnalyzer = (*FFmpeg)(nil)
)
