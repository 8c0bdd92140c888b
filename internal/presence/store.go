package presence

import "context"

// Store persists viewer-count snapshots for live rooms. The in-memory
// room size stays authoritative for what clients see; persistence
// failures are swallowed by callers, so stored and broadcast counts can
// drift.
type Store interface {
	SetViewerCount(ctx context.Context, roomID string, count int) error
	GetViewerCount(ctx context.Context, roomID string) (int, error)
	ClearRoom(ctx context.Context, roomID string) error
	Close() error
}
