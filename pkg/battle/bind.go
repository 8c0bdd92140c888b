package battle

import (
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/protocol"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/relayclient"
)

// Subscriber is the handler-registration side of the relay client.
type Subscriber interface {
	On(event string, fn relayclient.Handler) int
	Off(event string, id int)
}

// Binding ties a machine's subscriptions together so they can be removed
// as one unit when the stream closes.
type Binding struct {
	sub Subscriber
	ids map[string]int
}

// Bind subscribes the machine to the battle events arriving over the
// relay connection.
func Bind(m *Machine, sub Subscriber) *Binding {
	b := &Binding{sub: sub, ids: make(map[string]int)}

	b.ids[protocol.EventBattleInvite] = sub.On(protocol.EventBattleInvite, func(env *protocol.Envelope) {
		var p protocol.BattleInvitePayload
		if err := env.DecodeData(&p); err != nil {
			log.L().Warn().Err(err).Msg("battle: malformed invite dropped")
			return
		}
		if err := m.HandleInvite(p); err != nil {
			log.L().Warn().Err(err).Msg("battle: invite ignored")
		}
	})

	b.ids[protocol.EventBattleAccepted] = sub.On(protocol.EventBattleAccepted, func(env *protocol.Envelope) {
		var p protocol.BattleResponsePayload
		if err := env.DecodeData(&p); err != nil {
			log.L().Warn().Err(err).Msg("battle: malformed accept dropped")
			return
		}
		if err := m.HandleAccepted(p); err != nil {
			log.L().Warn().Err(err).Msg("battle: accept ignored")
		}
	})

	b.ids[protocol.EventBattleDeclined] = sub.On(protocol.EventBattleDeclined, func(env *protocol.Envelope) {
		var p protocol.BattleResponsePayload
		if err := env.DecodeData(&p); err != nil {
			log.L().Warn().Err(err).Msg("battle: malformed decline dropped")
			return
		}
		m.HandleDeclined(p)
	})

	b.ids[protocol.EventBattleScoreUpdate] = sub.On(protocol.EventBattleScoreUpdate, func(env *protocol.Envelope) {
		var p protocol.BattleScorePayload
		if err := env.DecodeData(&p); err != nil {
			log.L().Warn().Err(err).Msg("battle: malformed score update dropped")
			return
		}
		m.ApplyScoreUpdate(p)
	})

	b.ids[protocol.EventBoosterActivated] = sub.On(protocol.EventBoosterActivated, func(env *protocol.Envelope) {
		var p protocol.BoosterActivatedPayload
		if err := env.DecodeData(&p); err != nil {
			log.L().Warn().Err(err).Msg("battle: malformed booster dropped")
			return
		}
		m.HandleBooster(p)
	})

	return b
}

// Unbind removes all subscriptions created by Bind.
func (b *Binding) Unbind() {
	for event, id := range b.ids {
		b.sub.Off(event, id)
	}
	b.ids = make(map[string]int)
}
