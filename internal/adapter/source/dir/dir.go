// Package dir implements a source adapter over a local directory of video
// files, mainly for offline runs and testing pipelines end to end.
package dir

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/port"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
	".avi":  true,
}

// Source lists video files in a directory in lexical order. The cursor is
// the numeric offset into that listing, so resumed batches continue where
// they stopped as long as the directory contents are stable.
type Source struct {
	name string
	root string
}

func NewSource(name, root string) *Source {
	return &Source{name: name, root: root}
}

func (s *Source) Name() string { return s.name }

func (s *Source) ListCandidates(ctx context.Context, query, cursor string, pageSize int) (port.CandidatePage, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return port.CandidatePage{}, fmt.Errorf("bad dir cursor %q: %w", cursor, err)
		}
		offset = n
	}

	files, err := s.listVideos(query)
	if err != nil {
		return port.CandidatePage{}, err
	}
	if offset >= len(files) {
		return port.CandidatePage{Exhausted: true, NextCursor: cursor}, nil
	}

	end := offset + pageSize
	if end > len(files) {
		end = len(files)
	}

	descriptors := make([]domain.CandidateDescriptor, 0, end-offset)
	for _, name := range files[offset:end] {
		descriptors = append(descriptors, domain.CandidateDescriptor{
			SourceID:   s.name,
			ExternalID: name,
			URL:        filepath.Join(s.root, name),
			Title:      strings.TrimSuffix(name, filepath.Ext(name)),
		})
	}

	return port.CandidatePage{
		Descriptors: descriptors,
		NextCursor:  strconv.Itoa(end),
		Exhausted:   end == len(files),
	}, nil
}

func (s *Source) listVideos(query string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !videoExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(e.Name()), strings.ToLower(query)) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Fetch copies the file so downstream stages can move or delete their input
// without touching the source directory.
func (s *Source) Fetch(ctx context.Context, desc domain.CandidateDescriptor, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(desc.URL)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(destPath)
		return err
	}
	return out.Close()
}

var _ port.SourceAdapter = (*Source)(nil)
