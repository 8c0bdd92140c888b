package audit

import (
	"context"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
)

// Audit actions for the relay.
const (
	ActionJoin         = "relay.join"
	ActionJoinRejected = "relay.join_rejected"
	ActionLeave        = "relay.leave"
	ActionChat         = "relay.chat"
	ActionGift         = "relay.gift"
	ActionBattleRoute  = "relay.battle_route"
	ActionRateLimited  = "relay.rate_limited"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit entry via the context logger.
func Log(ctx context.Context, action, userID, msg string) {
	log.Ctx(ctx).Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithRoom emits an audit entry scoped to a room.
func LogWithRoom(ctx context.Context, action, userID, roomID, msg string) {
	log.Ctx(ctx).Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, roomID).
		Msg(msg)
}
