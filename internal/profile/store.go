package profile

import "context"

// Store resolves display names for verified users. Lookups are
// best-effort: callers fall back to an anonymous name on any error.
type Store interface {
	Lookup(ctx context.Context, userID string) (username string, err error)
	Close() error
}
