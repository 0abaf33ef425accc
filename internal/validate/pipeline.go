// Package validate runs the ordered content-validation pipeline against a
// downloaded clip. The pipeline is pure: the same ClipInfo and the same
// configuration always produce the same verdict, which keeps retries
// idempotent and tests reproducible.
package validate

import (
	"fmt"
	"strings"

	"github.com/tmarlin/clipharvest/internal/domain"
)

// ContentCheck is one pluggable content validation stage. Check returns nil
// when the clip passes.
type ContentCheck interface {
	Name() string
	Check(info *domain.ClipInfo) *domain.CheckFailure
}

// Config holds thresholds for the cheap format/resolution/frame-rate checks
// that always run before any content check.
type Config struct {
	Container   string
	MinWidth    int
	MinHeight   int
	MinFPS      float64
	MinDuration float64

	// FailFast stops content checks at the first failure instead of
	// collecting the complete reason list.
	FailFast bool
}

type Pipeline struct {
	cfg    Config
	checks []ContentCheck
}

func NewPipeline(cfg Config, checks ...ContentCheck) *Pipeline {
	return &Pipeline{cfg: cfg, checks: checks}
}

// Validate runs the cheap checks first, short-circuiting on the first hard
// failure, then every configured content check. The clip passes only when
// no failure was recorded.
func (p *Pipeline) Validate(info *domain.ClipInfo) domain.ValidationVerdict {
	if f := p.checkFormat(info); f != nil {
		return domain.ValidationVerdict{Failures: []domain.CheckFailure{*f}}
	}
	if f := p.checkResolution(info); f != nil {
		return domain.ValidationVerdict{Failures: []domain.CheckFailure{*f}}
	}
	if f := p.checkFrameRate(info); f != nil {
		return domain.ValidationVerdict{Failures: []domain.CheckFailure{*f}}
	}
	if f := p.checkDuration(info); f != nil {
		return domain.ValidationVerdict{Failures: []domain.CheckFailure{*f}}
	}

	var failures []domain.CheckFailure
	for _, check := range p.checks {
		if f := check.Check(info); f != nil {
			failures = append(failures, *f)
			if p.cfg.FailFast {
				break
			}
		}
	}

	return domain.ValidationVerdict{
		Passed:   len(failures) == 0,
		Failures: failures,
	}
}

func (p *Pipeline) checkFormat(info *domain.ClipInfo) *domain.CheckFailure {
	if p.cfg.Container == "" {
		return nil
	}
	if !containerMatches(info.Container, p.cfg.Container) {
		return &domain.CheckFailure{
			Check:  "format",
			Reason: domain.ReasonFormatMismatch,
			Detail: fmt.Sprintf("container %q does not match required %q", info.Container, p.cfg.Container),
		}
	}
	return nil
}

func (p *Pipeline) checkResolution(info *domain.ClipInfo) *domain.CheckFailure {
	if info.Width < p.cfg.MinWidth || info.Height < p.cfg.MinHeight {
		return &domain.CheckFailure{
			Check:  "resolution",
			Reason: domain.ReasonResolutionTooLow,
			Detail: fmt.Sprintf("%dx%d below minimum %dx%d", info.Width, info.Height, p.cfg.MinWidth, p.cfg.MinHeight),
		}
	}
	return nil
}

func (p *Pipeline) checkFrameRate(info *domain.ClipInfo) *domain.CheckFailure {
	if p.cfg.MinFPS > 0 && info.FPS < p.cfg.MinFPS {
		return &domain.CheckFailure{
			Check:  "frame_rate",
			Reason: domain.ReasonFPSTooLow,
			Detail: fmt.Sprintf("%.2f fps below minimum %.2f", info.FPS, p.cfg.MinFPS),
		}
	}
	return nil
}

func (p *Pipeline) checkDuration(info *domain.ClipInfo) *domain.CheckFailure {
	if p.cfg.MinDuration > 0 && info.Duration < p.cfg.MinDuration {
		return &domain.CheckFailure{
			Check:  "duration",
			Reason: domain.ReasonDurationTooShort,
			Detail: fmt.Sprintf("%.2fs below minimum %.2fs", info.Duration, p.cfg.MinDuration),
		}
	}
	return nil
}

// containerMatches treats ffprobe's comma-separated format names
// ("mov,mp4,m4a,3gp,3g2,mj2") as matching any listed name.
func containerMatches(probed, required string) bool {
	for _, name := range strings.Split(probed, ",") {
		if strings.EqualFold(strings.TrimSpace(name), required) {
			return true
		}
	}
	return false
}
