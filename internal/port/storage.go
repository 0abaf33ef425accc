package port

import "context"

// StorageSink persists an accepted clip and returns a durable reference
// (a path for local sinks, an object URL for remote ones).
type StorageSink interface {
	Store(ctx context.Context, path, keyHint string) (ref string, err error)
}
