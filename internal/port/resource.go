package port

import "github.com/tmarlin/clipharvest/internal/domain"

// ResourceGate is the scheduler's admission signal. Both methods are fast,
// non-blocking reads against cached sample data refreshed by a background
// loop.
type ResourceGate interface {
	Sample() domain.ResourceSample
	Admits() bool
}
