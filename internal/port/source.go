package port

import (
	"context"

	"github.com/tmarlin/clipharvest/internal/domain"
)

// CandidatePage is one page of search results from a source adapter.
type CandidatePage struct {
	Descriptors []domain.CandidateDescriptor
	NextCursor  string
	Exhausted   bool
}

// SourceAdapter is implemented once per platform. ListCandidates pages
// through search results using an opaque cursor ("" means the beginning);
// Fetch downloads one clip's bytes to destPath and must be idempotent for
// the same descriptor.
type SourceAdapter interface {
	Name() string
	ListCandidates(ctx context.Context, query, cursor string, pageSize int) (CandidatePage, error)
	Fetch(ctx context.Context, desc domain.CandidateDescriptor, destPath string) error
}
