// Package battle drives the client-side battle state machine: a timed
// scored competition between two streams, coordinated over relay events
// while the battle record itself is persisted elsewhere.
package battle

import (
	"errors"
	"sync"
	"time"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/protocol"
)

// Phase of the local battle state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePending   Phase = "pending"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
)

// Side identifies which stream this machine drives.
type Side string

const (
	SideHost       Side = "host"
	SideChallenger Side = "challenger"
)

var (
	ErrNotIdle    = errors.New("battle already in progress")
	ErrNotPending = errors.New("no pending invite")
	ErrNotActive  = errors.New("no active battle")
)

// Outcome of a completed battle.
type Outcome struct {
	WinnerStreamID  string // empty on draw
	Draw            bool
	HostScore       int
	ChallengerScore int
}

// Publisher sends events to the room relay. *relayclient.Client
// satisfies it.
type Publisher interface {
	Send(event string, data interface{}) error
}

// Config for a battle machine. Zero values pick the production defaults;
// tests shrink the timers.
type Config struct {
	Side          Side
	InviteTimeout time.Duration // response window, default 30s
	Tick          time.Duration // countdown resolution, default 1s
	TapPoints     int           // default 1
	GiftPoints    int           // per gift quantity unit, default 10

	OnPhaseChange func(Phase)
	OnTick        func(remaining time.Duration)
	OnScores      func(host, challenger int)
	OnCompleted   func(Outcome)
	OnBooster     func(p protocol.BoosterActivatedPayload)
}

// Machine is the per-stream battle state machine:
// Idle -> Pending -> Active -> Completed.
type Machine struct {
	pub Publisher
	cfg Config

	mu          sync.Mutex
	phase       Phase
	battle      protocol.Battle
	inviteTimer *time.Timer
	stopTick    chan struct{}

	boosterMult  int
	boosterUntil time.Time

	now func() time.Time
}

func NewMachine(pub Publisher, cfg Config) *Machine {
	if cfg.InviteTimeout <= 0 {
		cfg.InviteTimeout = 30 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.TapPoints <= 0 {
		cfg.TapPoints = 1
	}
	if cfg.GiftPoints <= 0 {
		cfg.GiftPoints = 10
	}
	return &Machine{
		pub:   pub,
		cfg:   cfg,
		phase: PhaseIdle,
		now:   time.Now,
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Scores returns the currently displayed score pair.
func (m *Machine) Scores() (host, challenger int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.battle.HostScore, m.battle.ChallengerScore
}

// Invite starts a battle from the host side: publishes the invite to the
// challenger's room and arms the response window.
func (m *Machine) Invite(b protocol.Battle) error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	b.Status = protocol.BattleStatusPending
	m.battle = b
	m.toPhaseLocked(PhasePending)
	m.armInviteTimerLocked()
	m.mu.Unlock()

	return m.pub.Send(protocol.EventBattleInvite, &protocol.BattleInvitePayload{
		BattleID:           b.ID,
		HostStreamID:       b.HostStreamID,
		ChallengerStreamID: b.ChallengerStreamID,
		TimeLimit:          b.TimeLimitSeconds,
	})
}

// HandleInvite receives an invite on the challenger side and arms the
// same response window; expiry auto-declines.
func (m *Machine) HandleInvite(p protocol.BattleInvitePayload) error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.battle = protocol.Battle{
		ID:                 p.BattleID,
		HostStreamID:       p.HostStreamID,
		ChallengerStreamID: p.ChallengerStreamID,
		Status:             protocol.BattleStatusPending,
		TimeLimitSeconds:   p.TimeLimit,
	}
	m.toPhaseLocked(PhasePending)
	m.armInviteTimerLocked()
	m.mu.Unlock()
	return nil
}

// Accept answers a pending invite, flips to Active and publishes
// battle_accepted to the host's room.
func (m *Machine) Accept() error {
	m.mu.Lock()
	if m.phase != PhasePending {
		m.mu.Unlock()
		return ErrNotPending
	}
	m.cancelInviteTimerLocked()
	startedAt := m.now()
	m.battle.Status = protocol.BattleStatusActive
	m.battle.StartedAt = startedAt
	m.toPhaseLocked(PhaseActive)
	m.startCountdownLocked()
	b := m.battle
	m.mu.Unlock()

	return m.pub.Send(protocol.EventBattleAccepted, &protocol.BattleResponsePayload{
		BattleID:           b.ID,
		HostStreamID:       b.HostStreamID,
		ChallengerStreamID: b.ChallengerStreamID,
		StartedAt:          startedAt.Unix(),
	})
}

// Decline rejects a pending invite and publishes battle_declined to the
// host's room.
func (m *Machine) Decline() error {
	m.mu.Lock()
	if m.phase != PhasePending {
		m.mu.Unlock()
		return ErrNotPending
	}
	m.cancelInviteTimerLocked()
	b := m.battle
	m.resetLocked()
	m.mu.Unlock()

	return m.pub.Send(protocol.EventBattleDeclined, &protocol.BattleResponsePayload{
		BattleID:           b.ID,
		HostStreamID:       b.HostStreamID,
		ChallengerStreamID: b.ChallengerStreamID,
	})
}

// HandleAccepted is the host observing the challenger's acceptance.
func (m *Machine) HandleAccepted(p protocol.BattleResponsePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhasePending {
		return ErrNotPending
	}
	m.cancelInviteTimerLocked()
	m.battle.Status = protocol.BattleStatusActive
	if p.StartedAt > 0 {
		m.battle.StartedAt = time.Unix(p.StartedAt, 0)
	} else {
		m.battle.StartedAt = m.now()
	}
	m.toPhaseLocked(PhaseActive)
	m.startCountdownLocked()
	return nil
}

// HandleDeclined is the host observing a decline (explicit or timed out).
func (m *Machine) HandleDeclined(p protocol.BattleResponsePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhasePending {
		return ErrNotPending
	}
	m.cancelInviteTimerLocked()
	m.resetLocked()
	return nil
}

// RecordTap scores a screen tap for this side during an active battle
// and publishes the full score pair.
func (m *Machine) RecordTap() error {
	return m.score(m.cfg.TapPoints)
}

// RecordGift scores a gift send for this side during an active battle.
func (m *Machine) RecordGift(quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	return m.score(m.cfg.GiftPoints * quantity)
}

func (m *Machine) score(points int) error {
	m.mu.Lock()
	if m.phase != PhaseActive {
		m.mu.Unlock()
		return ErrNotActive
	}

	if m.boosterMult > 1 && m.now().Before(m.boosterUntil) {
		points *= m.boosterMult
	}

	if m.cfg.Side == SideChallenger {
		m.battle.ChallengerScore += points
	} else {
		m.battle.HostScore += points
	}
	b := m.battle
	m.notifyScoresLocked()
	m.mu.Unlock()

	return m.pub.Send(protocol.EventBattleScoreUpdate, &protocol.BattleScorePayload{
		BattleID:        b.ID,
		HostScore:       b.HostScore,
		ChallengerScore: b.ChallengerScore,
	})
}

// ApplyScoreUpdate applies a remote score pair. Whoever published most
// recently wins the displayed value; there is no merging.
func (m *Machine) ApplyScoreUpdate(p protocol.BattleScorePayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseActive || p.BattleID != m.battle.ID {
		return
	}
	m.battle.HostScore = p.HostScore
	m.battle.ChallengerScore = p.ChallengerScore
	m.notifyScoresLocked()
}

// ActivateBooster publishes the booster and multiplies this side's
// increments for its duration.
func (m *Machine) ActivateBooster(boosterID string, multiplier int, d time.Duration) error {
	m.mu.Lock()
	if m.phase != PhaseActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	if multiplier < 1 {
		multiplier = 1
	}
	m.boosterMult = multiplier
	m.boosterUntil = m.now().Add(d)
	b := m.battle
	m.mu.Unlock()

	return m.pub.Send(protocol.EventBoosterActivated, &protocol.BoosterActivatedPayload{
		BattleID:  b.ID,
		BoosterID: boosterID,
	})
}

// HandleBooster surfaces a remote booster activation to the UI.
func (m *Machine) HandleBooster(p protocol.BoosterActivatedPayload) {
	if m.cfg.OnBooster != nil {
		m.cfg.OnBooster(p)
	}
}

// Reset returns a completed machine to Idle so a new battle can start.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelInviteTimerLocked()
	m.stopCountdownLocked()
	m.resetLocked()
}

func (m *Machine) armInviteTimerLocked() {
	side := m.cfg.Side
	m.inviteTimer = time.AfterFunc(m.cfg.InviteTimeout, func() {
		m.expireInvite(side)
	})
}

// expireInvite auto-declines when the response window elapses. The
// challenger side announces the decline; the host side just reverts,
// since it will also observe battle_declined if the challenger was
// reachable.
func (m *Machine) expireInvite(side Side) {
	m.mu.Lock()
	if m.phase != PhasePending {
		m.mu.Unlock()
		return
	}
	b := m.battle
	m.resetLocked()
	m.mu.Unlock()

	if side == SideChallenger {
		m.pub.Send(protocol.EventBattleDeclined, &protocol.BattleResponsePayload{
			BattleID:           b.ID,
			HostStreamID:       b.HostStreamID,
			ChallengerStreamID: b.ChallengerStreamID,
		})
	}
}

func (m *Machine) cancelInviteTimerLocked() {
	if m.inviteTimer != nil {
		m.inviteTimer.Stop()
		m.inviteTimer = nil
	}
}

// startCountdownLocked launches the per-tick countdown. Caller holds
// m.mu with phase already Active.
func (m *Machine) startCountdownLocked() {
	stop := make(chan struct{})
	m.stopTick = stop

	go func() {
		ticker := time.NewTicker(m.cfg.Tick)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if m.tick() {
					return
				}
			}
		}
	}()
}

// tick reports true when the battle completed.
func (m *Machine) tick() bool {
	m.mu.Lock()
	if m.phase != PhaseActive {
		m.mu.Unlock()
		return true
	}

	remaining := m.battle.Remaining(m.now())
	onTick := m.cfg.OnTick

	if remaining > 0 {
		m.mu.Unlock()
		if onTick != nil {
			onTick(remaining)
		}
		return false
	}

	// Time is up: the higher score wins, a tie is a draw.
	outcome := Outcome{
		HostScore:       m.battle.HostScore,
		ChallengerScore: m.battle.ChallengerScore,
	}
	switch {
	case outcome.HostScore > outcome.ChallengerScore:
		outcome.WinnerStreamID = m.battle.HostStreamID
	case outcome.ChallengerScore > outcome.HostScore:
		outcome.WinnerStreamID = m.battle.ChallengerStreamID
	default:
		outcome.Draw = true
	}

	m.battle.Status = protocol.BattleStatusCompleted
	m.battle.WinnerID = outcome.WinnerStreamID
	m.stopTick = nil
	m.toPhaseLocked(PhaseCompleted)
	onCompleted := m.cfg.OnCompleted
	m.mu.Unlock()

	if onTick != nil {
		onTick(0)
	}
	if onCompleted != nil {
		onCompleted(outcome)
	}
	return true
}

func (m *Machine) stopCountdownLocked() {
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}

func (m *Machine) resetLocked() {
	m.battle = protocol.Battle{}
	m.boosterMult = 0
	m.boosterUntil = time.Time{}
	m.toPhaseLocked(PhaseIdle)
}

func (m *Machine) toPhaseLocked(p Phase) {
	if m.phase == p {
		return
	}
	m.phase = p
	if m.cfg.OnPhaseChange != nil {
		m.cfg.OnPhaseChange(p)
	}
}

func (m *Machine) notifyScoresLocked() {
	if m.cfg.OnScores != nil {
		m.cfg.OnScores(m.battle.HostScore, m.battle.ChallengerScore)
	}
}
