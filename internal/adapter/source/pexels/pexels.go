// Package pexels implements a source adapter for the Pexels video API.
package pexels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/port"
)

const (
	defaultBaseURL = "https://api.pexels.com/videos"
	userAgent      = "clipharvest/1.0"
)

// Source queries the Pexels search endpoint and downloads the best quality
// file advertised for each hit. The cursor is the 1-based page number.
type Source struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type Option func(*Source)

func WithBaseURL(u string) Option {
	return func(s *Source) { s.baseURL = strings.TrimSuffix(u, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

func NewSource(apiKey string, opts ...Option) *Source {
	s := &Source{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string { return "pexels" }

type apiVideoFile struct {
	Link     string  `json:"link"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	FileType string  `json:"file_type"`
}

type apiVideo struct {
	ID         int            `json:"id"`
	URL        string         `json:"url"`
	Duration   float64        `json:"duration"`
	VideoFiles []apiVideoFile `json:"video_files"`
}

type searchResponse struct {
	Videos  []apiVideo `json:"videos"`
	Page    int        `json:"page"`
	PerPage int        `json:"per_page"`
	NextURL string     `json:"next_page"`
}

func (s *Source) ListCandidates(ctx context.Context, query, cursor string, pageSize int) (port.CandidatePage, error) {
	page := 1
	if cursor != "" {
		p, err := strconv.Atoi(cursor)
		if err != nil {
			return port.CandidatePage{}, fmt.Errorf("bad pexels cursor %q: %w", cursor, err)
		}
		page = p
	}

	u := fmt.Sprintf("%s/search?%s", s.baseURL, url.Values{
		"query":    {query},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(pageSize)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return port.CandidatePage{}, err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("User-Agent", userAgent)

	var resp searchResponse
	if err := s.doJSON(req, &resp); err != nil {
		return port.CandidatePage{}, err
	}

	descriptors := make([]domain.CandidateDescriptor, 0, len(resp.Videos))
	for _, v := range resp.Videos {
		best, ok := bestFile(v.VideoFiles)
		if !ok {
			continue
		}
		descriptors = append(descriptors, domain.CandidateDescriptor{
			SourceID:          s.Name(),
			ExternalID:        strconv.Itoa(v.ID),
			URL:               best.Link,
			Title:             titleFromURL(v.URL),
			EstimatedDuration: v.Duration,
			Metadata: map[string]string{
				"width":  strconv.Itoa(best.Width),
				"height": strconv.Itoa(best.Height),
				"fps":    strconv.FormatFloat(best.FPS, 'g', -1, 64),
			},
		})
	}

	return port.CandidatePage{
		Descriptors: descriptors,
		NextCursor:  strconv.Itoa(page + 1),
		Exhausted:   len(resp.Videos) == 0 || resp.NextURL == "",
	}, nil
}

// Fetch streams the clip bytes to destPath through a temp file so a
// half-written download never looks complete.
func (s *Source) Fetch(ctx context.Context, desc domain.CandidateDescriptor, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Transient("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus("fetch", resp.StatusCode)
	}

	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return domain.Transient("fetch", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, destPath)
}

func (s *Source) doJSON(req *http.Request, v any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Transient("search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus("search", resp.StatusCode)
	}
	return decodeJSON(resp.Body, v)
}

// classifyStatus maps rate limits and server errors to transient failures;
// everything else is permanent.
func classifyStatus(op string, status int) error {
	err := fmt.Errorf("unexpected status %d", status)
	if status == http.StatusTooManyRequests || status >= 500 {
		return domain.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// titleFromURL derives a readable title from a Pexels page URL like
// https://www.pexels.com/video/ocean-waves-857251/.
func titleFromURL(pageURL string) string {
	trimmed := strings.TrimSuffix(pageURL, "/")
	slug := trimmed[strings.LastIndex(trimmed, "/")+1:]
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func bestFile(files []apiVideoFile) (apiVideoFile, bool) {
	if len(files) == 0 {
		return apiVideoFile{}, false
	}
	sorted := make([]apiVideoFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Width*sorted[i].Height > sorted[j].Width*sorted[j].Height
	})
	return sorted[0], true
}

var _ port.SourceAdapter = (*Source)(nil)
