package protocol

import "time"

// Battle statuses. The battle record itself is owned by external storage;
// the relay and its clients only mirror it through events.
const (
	BattleStatusPending   = "pending"
	BattleStatusActive    = "active"
	BattleStatusCompleted = "completed"
)

// Battle mirrors the externally persisted battle record.
type Battle struct {
	ID                 string    `json:"id"`
	HostStreamID       string    `json:"host_stream_id"`
	ChallengerStreamID string    `json:"challenger_stream_id"`
	Status             string    `json:"status"`
	HostScore          int       `json:"host_score"`
	ChallengerScore    int       `json:"challenger_score"`
	TimeLimitSeconds   int       `json:"time_limit_seconds"`
	StartedAt          time.Time `json:"started_at,omitempty"`
	WinnerID           string    `json:"winner_id,omitempty"`
}

// Remaining returns the battle time left at the given instant, floored
// at zero. Zero before the battle has started.
func (b *Battle) Remaining(now time.Time) time.Duration {
	if b.Status != BattleStatusActive || b.StartedAt.IsZero() {
		return 0
	}
	limit := time.Duration(b.TimeLimitSeconds) * time.Second
	left := limit - now.Sub(b.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}
