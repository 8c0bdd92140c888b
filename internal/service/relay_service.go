package service

import (
	"context"
	"fmt"
	"math"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/analytics"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/audit"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/auth"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/bridge"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/hub"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/presence"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/profile"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/ratelimit"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/protocol"
)

type relayService struct {
	hub      *hub.Hub
	verifier auth.TokenVerifier
	profiles profile.Store
	viewers  presence.Store
	limiter  *ratelimit.Limiter
	producer analytics.EventProducer
	bridge   bridge.Publisher // nil when single-instance
}

func NewRelayService(
	h *hub.Hub,
	verifier auth.TokenVerifier,
	profiles profile.Store,
	viewers presence.Store,
	limiter *ratelimit.Limiter,
	producer analytics.EventProducer,
	br bridge.Publisher,
) RelayService {
	return &relayService{
		hub:      h,
		verifier: verifier,
		profiles: profiles,
		viewers:  viewers,
		limiter:  limiter,
		producer: producer,
		bridge:   br,
	}
}

func (s *relayService) Authenticate(ctx context.Context, token string) (string, string, error) {
	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return "", "", fmt.Errorf("token verification failed: %w", err)
	}

	username, err := s.profiles.Lookup(ctx, identity.UserID)
	if err != nil {
		log.Ctx(ctx).Warn().
			Str(log.FieldUserID, identity.UserID).
			Err(err).
			Msg("profile lookup failed, using anonymous name")
		username = ""
	}

	return identity.UserID, username, nil
}

func (s *relayService) HandleJoin(ctx context.Context, c *hub.Client, roomID string) error {
	s.hub.JoinRoom(c, roomID)
	c.Session.JoinRoom(roomID)

	count := s.hub.RoomCount(roomID)

	c.SendEvent(protocol.EventConnected, &protocol.ConnectedPayload{
		RoomID:    roomID,
		UserCount: count,
	})

	s.broadcastEvent(ctx, roomID, protocol.EventUserJoined, &protocol.UserPayload{
		UserID:   c.Session.GetUserID(),
		Username: c.Session.GetUsername(),
	}, c.ID)

	s.publishViewerCount(ctx, roomID, count)

	audit.LogWithRoom(ctx, audit.ActionJoin, c.Session.GetUserID(), roomID, "client joined room")
	return nil
}

func (s *relayService) HandleFrame(ctx context.Context, c *hub.Client, frame []byte) {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		// Malformed input is not fatal; the connection stays open.
		log.Ctx(ctx).Warn().Str(log.FieldClientID, c.ID).Err(err).Msg("dropping malformed frame")
		return
	}

	if !protocol.KnownEvent(env.Event) {
		log.Ctx(ctx).Warn().
			Str(log.FieldClientID, c.ID).
			Str(log.FieldEvent, env.Event).
			Msg("dropping frame with unknown event")
		return
	}

	roomID := c.Session.CurrentRoom()
	if roomID == "" {
		return
	}

	switch env.Event {
	case protocol.EventChatMessage:
		s.handleChat(ctx, c, roomID, env)
	case protocol.EventGiftSent:
		s.handleGift(ctx, c, roomID, env)
	case protocol.EventBattleInvite:
		s.handleBattleInvite(ctx, c, env)
	case protocol.EventBattleAccepted, protocol.EventBattleDeclined:
		s.handleBattleResponse(ctx, c, env)
	case protocol.EventBattleScoreUpdate:
		s.handleBattleScore(ctx, c, roomID, env)
	case protocol.EventBoosterActivated:
		s.handleBooster(ctx, c, roomID, env)
	}
}

func (s *relayService) handleChat(ctx context.Context, c *hub.Client, roomID string, env *protocol.Envelope) {
	if !s.allow(ctx, c, ratelimit.ActionChatSend) {
		return
	}

	var p protocol.ChatMessagePayload
	if err := env.DecodeData(&p); err != nil {
		log.Ctx(ctx).Warn().Str(log.FieldClientID, c.ID).Err(err).Msg("dropping malformed chat payload")
		return
	}
	s.stamp(c, &p.UserID, &p.Username)

	s.broadcastEvent(ctx, roomID, protocol.EventChatMessage, &p, c.ID)
	audit.LogWithRoom(ctx, audit.ActionChat, c.Session.GetUserID(), roomID, "chat message relayed")
}

func (s *relayService) handleGift(ctx context.Context, c *hub.Client, roomID string, env *protocol.Envelope) {
	if !s.allow(ctx, c, ratelimit.ActionGiftSend) {
		return
	}

	var p protocol.GiftSentPayload
	if err := env.DecodeData(&p); err != nil {
		log.Ctx(ctx).Warn().Str(log.FieldClientID, c.ID).Err(err).Msg("dropping malformed gift payload")
		return
	}
	s.stamp(c, &p.UserID, &p.Username)

	s.broadcastEvent(ctx, roomID, protocol.EventGiftSent, &p, c.ID)
	audit.LogWithRoom(ctx, audit.ActionGift, c.Session.GetUserID(), roomID, "gift relayed")
}

// handleBattleInvite forwards the payload as-is to the challenger's room.
// Battle routing events are the one case of cross-room delivery.
func (s *relayService) handleBattleInvite(ctx context.Context, c *hub.Client, env *protocol.Envelope) {
	if !s.allow(ctx, c, ratelimit.ActionBattleInvite) {
		return
	}

	var p protocol.BattleInvitePayload
	if err := env.DecodeData(&p); err != nil || p.ChallengerStreamID == "" {
		log.Ctx(ctx).Warn().Str(log.FieldClientID, c.ID).Msg("dropping battle invite without target room")
		return
	}

	s.forwardEvent(ctx, p.ChallengerStreamID, env)
	audit.LogWithRoom(ctx, audit.ActionBattleRoute, c.Session.GetUserID(), p.ChallengerStreamID, "battle invite routed")
}

// handleBattleResponse routes accept/decline back to the host's room.
func (s *relayService) handleBattleResponse(ctx context.Context, c *hub.Client, env *protocol.Envelope) {
	var p protocol.BattleResponsePayload
	if err := env.DecodeData(&p); err != nil || p.HostStreamID == "" {
		log.Ctx(ctx).Warn().Str(log.FieldClientID, c.ID).Msg("dropping battle response without target room")
		return
	}

	s.forwardEvent(ctx, p.HostStreamID, env)
	audit.LogWithRoom(ctx, audit.ActionBattleRoute, c.Session.GetUserID(), p.HostStreamID, "battle response routed")
}

func (s *relayService) handleBattleScore(ctx context.Context, c *hub.Client, roomID string, env *protocol.Envelope) {
	var p protocol.BattleScorePayload
	if err := env.DecodeData(&p); err != nil {
		log.Ctx(ctx).Warn().Str(log.FieldClientID, c.ID).Err(err).Msg("dropping malformed score payload")
		return
	}
	s.stamp(c, &p.UserID, &p.Username)

	s.broadcastEvent(ctx, roomID, protocol.EventBattleScoreUpdate, &p, c.ID)
}

func (s *relayService) handleBooster(ctx context.Context, c *hub.Client, roomID string, env *protocol.Envelope) {
	var p protocol.BoosterActivatedPayload
	if err := env.DecodeData(&p); err != nil {
		log.Ctx(ctx).Warn().Str(log.FieldClientID, c.ID).Err(err).Msg("dropping malformed booster payload")
		return
	}
	s.stamp(c, &p.UserID, &p.Username)

	s.broadcastEvent(ctx, roomID, protocol.EventBoosterActivated, &p, c.ID)
}

func (s *relayService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	roomID := c.Session.CurrentRoom()
	if roomID == "" {
		return nil
	}

	s.hub.LeaveRoom(c, roomID)
	c.Session.LeaveRoom()

	s.broadcastEvent(ctx, roomID, protocol.EventUserLeft, &protocol.UserPayload{
		UserID:   c.Session.GetUserID(),
		Username: c.Session.GetUsername(),
	}, c.ID)

	s.publishViewerCount(ctx, roomID, s.hub.RoomCount(roomID))

	audit.LogWithRoom(ctx, audit.ActionLeave, c.Session.GetUserID(), roomID, "client left room")
	return nil
}

// allow checks the limiter and answers a denial to the sender.
func (s *relayService) allow(ctx context.Context, c *hub.Client, action string) bool {
	res := s.limiter.Check(c.Session.GetUserID(), action)
	if res.Allowed {
		return true
	}

	retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
	c.SendError(protocol.ErrCodeRateLimited, "rate limit exceeded for "+action, retryAfter)
	audit.Log(ctx, audit.ActionRateLimited, c.Session.GetUserID(), "action denied: "+action)
	return false
}

// stamp overwrites client-supplied identity fields with the verified
// session identity.
func (s *relayService) stamp(c *hub.Client, userID, username *string) {
	*userID = c.Session.GetUserID()
	*username = c.Session.GetUsername()
}

// broadcastEvent wraps the payload in a fresh envelope and fans it out to
// the room, mirroring it to the bridge and the analytics sink.
func (s *relayService) broadcastEvent(ctx context.Context, roomID, event string, payload interface{}, exclude string) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		log.Ctx(ctx).Error().Str(log.FieldEvent, event).Err(err).Msg("failed to build envelope")
		return
	}
	s.fanOut(ctx, roomID, env, exclude)
}

// forwardEvent re-stamps the timestamp but forwards the payload verbatim
// to the target room.
func (s *relayService) forwardEvent(ctx context.Context, roomID string, env *protocol.Envelope) {
	s.fanOut(ctx, roomID, env, "")
}

func (s *relayService) fanOut(ctx context.Context, roomID string, env *protocol.Envelope, exclude string) {
	data, err := env.Encode()
	if err != nil {
		log.Ctx(ctx).Error().Str(log.FieldEvent, env.Event).Err(err).Msg("failed to encode envelope")
		return
	}

	s.hub.Broadcast(roomID, data, exclude)

	if s.bridge != nil {
		if err := s.bridge.Publish(ctx, roomID, data); err != nil {
			log.Ctx(ctx).Warn().Str(log.FieldRoomID, roomID).Err(err).Msg("bridge publish failed")
		}
	}

	if err := s.producer.ProduceEvent(ctx, roomID, env); err != nil {
		log.Ctx(ctx).Warn().Str(log.FieldEvent, env.Event).Err(err).Msg("analytics produce failed")
	}
}

// publishViewerCount persists the current in-memory count and broadcasts
// it to the whole room. A failed write is swallowed; clients still get
// the in-memory count.
func (s *relayService) publishViewerCount(ctx context.Context, roomID string, count int) {
	var err error
	if count == 0 {
		err = s.viewers.ClearRoom(ctx, roomID)
	} else {
		err = s.viewers.SetViewerCount(ctx, roomID, count)
	}
	if err != nil {
		log.Ctx(ctx).Warn().
			Str(log.FieldRoomID, roomID).
			Int(log.FieldCount, count).
			Err(err).
			Msg("viewer count persistence failed")
	}

	if count > 0 {
		s.broadcastEvent(ctx, roomID, protocol.EventViewerCountUpdate, &protocol.ViewerCountPayload{
			Count: count,
		}, "")
	}
}

func (s *relayService) Start(ctx context.Context) error {
	s.limiter.Start(ctx)
	log.L().Info().Msg("relay service started")
	return nil
}

func (s *relayService) Stop() error {
	s.limiter.Stop()
	if err := s.producer.Close(); err != nil {
		log.L().Warn().Err(err).Msg("failed to close analytics producer")
	}
	return nil
}
