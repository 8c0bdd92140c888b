package protocol

// Server -> client payloads.

// ConnectedPayload confirms a join to the connecting client.
type ConnectedPayload struct {
	RoomID    string `json:"room_id"`
	UserCount int    `json:"user_count"`
}

// UserPayload announces a member joining or leaving a room.
type UserPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ViewerCountPayload carries the room's current member count.
type ViewerCountPayload struct {
	Count int `json:"count"`
}

// ErrorPayload is sent to a single client when its request is rejected.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds
}

// Error codes carried in ErrorPayload.
const (
	ErrCodeBadRequest  = "BAD_REQUEST"
	ErrCodeRateLimited = "RATE_LIMITED"
)

// Client-originated payloads. The relay stamps UserID/Username server-side
// on chat, gift, score and booster events; values sent by the client for
// those fields are discarded.

// ChatMessagePayload is a room chat line.
type ChatMessagePayload struct {
	Text     string `json:"text"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// GiftSentPayload announces a gift to the room.
type GiftSentPayload struct {
	GiftID   string `json:"gift_id"`
	GiftName string `json:"gift_name"`
	GiftIcon string `json:"gift_icon"`
	Quantity int    `json:"quantity"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// BattleInvitePayload is routed to the challenger's room, not the
// sender's own. The relay forwards it as-is.
type BattleInvitePayload struct {
	BattleID           string `json:"battle_id"`
	HostStreamID       string `json:"host_stream_id"`
	ChallengerStreamID string `json:"challenger_stream_id"`
	TimeLimit          int    `json:"time_limit"` // seconds
}

// BattleResponsePayload answers an invite; routed to the host's room.
type BattleResponsePayload struct {
	BattleID           string `json:"battle_id"`
	HostStreamID       string `json:"host_stream_id"`
	ChallengerStreamID string `json:"challenger_stream_id"`
	StartedAt          int64  `json:"started_at,omitempty"` // unix seconds, set on accept
}

// BattleScorePayload carries the full score pair. Receivers apply it
// last-writer-wins.
type BattleScorePayload struct {
	BattleID        string `json:"battle_id"`
	HostScore       int    `json:"host_score"`
	ChallengerScore int    `json:"challenger_score"`
	UserID          string `json:"user_id,omitempty"`
	Username        string `json:"username,omitempty"`
}

// BoosterActivatedPayload announces a timed booster during a battle.
type BoosterActivatedPayload struct {
	BattleID  string `json:"battle_id"`
	BoosterID string `json:"booster_id"`
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
}
