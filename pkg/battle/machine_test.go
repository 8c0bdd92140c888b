package battle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/protocol"
)

type fakePub struct {
	mu     sync.Mutex
	events []string
	last   map[string]interface{}
}

func newFakePub() *fakePub {
	return &fakePub{last: make(map[string]interface{})}
}

func (p *fakePub) Send(event string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.last[event] = data
	return nil
}

func (p *fakePub) sent(event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == event {
			return true
		}
	}
	return false
}

func (p *fakePub) payload(event string) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[event]
}

func testBattle() protocol.Battle {
	return protocol.Battle{
		ID:                 "battle-1",
		HostStreamID:       "host-room",
		ChallengerStreamID: "challenger-room",
		TimeLimitSeconds:   60,
	}
}

func testInvite() protocol.BattleInvitePayload {
	return protocol.BattleInvitePayload{
		BattleID:           "battle-1",
		HostStreamID:       "host-room",
		ChallengerStreamID: "challenger-room",
		TimeLimit:          60,
	}
}

// newQuietMachine builds a machine whose countdown ticker never fires, so
// tests drive tick() by hand through an injected clock.
func newQuietMachine(side Side, cfg Config) (*Machine, *fakePub, *time.Time) {
	pub := newFakePub()
	cfg.Side = side
	cfg.Tick = time.Hour
	if cfg.InviteTimeout == 0 {
		cfg.InviteTimeout = time.Hour
	}
	m := NewMachine(pub, cfg)

	now := time.Unix(10000, 0)
	m.now = func() time.Time { return now }
	return m, pub, &now
}

func activeChallenger(t *testing.T, cfg Config) (*Machine, *fakePub, *time.Time) {
	t.Helper()
	m, pub, now := newQuietMachine(SideChallenger, cfg)
	if err := m.HandleInvite(testInvite()); err != nil {
		t.Fatalf("HandleInvite: %v", err)
	}
	if err := m.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return m, pub, now
}

func TestHostInviteFlow(t *testing.T) {
	m, pub, _ := newQuietMachine(SideHost, Config{})

	if err := m.Invite(testBattle()); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if m.Phase() != PhasePending {
		t.Fatalf("phase = %v", m.Phase())
	}
	if !pub.sent(protocol.EventBattleInvite) {
		t.Fatal("battle_invite not published")
	}
	invite := pub.payload(protocol.EventBattleInvite).(*protocol.BattleInvitePayload)
	if invite.ChallengerStreamID != "challenger-room" || invite.TimeLimit != 60 {
		t.Fatalf("invite payload = %+v", invite)
	}

	// A second invite while one is pending is rejected.
	if err := m.Invite(testBattle()); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("err = %v, want ErrNotIdle", err)
	}

	if err := m.HandleAccepted(protocol.BattleResponsePayload{
		BattleID:  "battle-1",
		StartedAt: time.Unix(10000, 0).Unix(),
	}); err != nil {
		t.Fatalf("HandleAccepted: %v", err)
	}
	if m.Phase() != PhaseActive {
		t.Fatalf("phase after accept = %v", m.Phase())
	}
}

func TestChallengerAcceptPublishesStart(t *testing.T) {
	m, pub, _ := newQuietMachine(SideChallenger, Config{})

	if err := m.HandleInvite(testInvite()); err != nil {
		t.Fatalf("HandleInvite: %v", err)
	}
	if err := m.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if m.Phase() != PhaseActive {
		t.Fatalf("phase = %v", m.Phase())
	}
	resp := pub.payload(protocol.EventBattleAccepted).(*protocol.BattleResponsePayload)
	if resp.BattleID != "battle-1" || resp.StartedAt != 10000 {
		t.Fatalf("accepted payload = %+v", resp)
	}

	// Accept is only valid from Pending.
	if err := m.Accept(); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second Accept err = %v", err)
	}
}

func TestDeclineRevertsToIdle(t *testing.T) {
	m, pub, _ := newQuietMachine(SideChallenger, Config{})

	m.HandleInvite(testInvite())
	if err := m.Decline(); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if m.Phase() != PhaseIdle {
		t.Fatalf("phase = %v", m.Phase())
	}
	if !pub.sent(protocol.EventBattleDeclined) {
		t.Fatal("battle_declined not published")
	}
	resp := pub.payload(protocol.EventBattleDeclined).(*protocol.BattleResponsePayload)
	if resp.HostStreamID != "host-room" {
		t.Fatalf("declined payload = %+v", resp)
	}

	// The machine is reusable after a decline.
	if err := m.HandleInvite(testInvite()); err != nil {
		t.Fatalf("HandleInvite after decline: %v", err)
	}
}

func TestInviteTimeoutAutoDeclines(t *testing.T) {
	pub := newFakePub()
	m := NewMachine(pub, Config{
		Side:          SideChallenger,
		InviteTimeout: 10 * time.Millisecond,
		Tick:          time.Hour,
	})

	m.HandleInvite(testInvite())

	deadline := time.Now().Add(2 * time.Second)
	for m.Phase() != PhaseIdle {
		if time.Now().After(deadline) {
			t.Fatal("invite did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !pub.sent(protocol.EventBattleDeclined) {
		t.Fatal("expired invite should publish battle_declined")
	}
}

func TestHostInviteTimeoutRevertsSilently(t *testing.T) {
	pub := newFakePub()
	m := NewMachine(pub, Config{
		Side:          SideHost,
		InviteTimeout: 10 * time.Millisecond,
		Tick:          time.Hour,
	})

	m.Invite(testBattle())

	deadline := time.Now().Add(2 * time.Second)
	for m.Phase() != PhaseIdle {
		if time.Now().After(deadline) {
			t.Fatal("invite did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// The host waits for the challenger's decline rather than announcing
	// one itself.
	if pub.sent(protocol.EventBattleDeclined) {
		t.Fatal("host side should not publish battle_declined on expiry")
	}
}

func TestScoringPublishesPairs(t *testing.T) {
	var gotHost, gotChallenger int
	m, pub, _ := activeChallenger(t, Config{
		OnScores: func(h, c int) { gotHost, gotChallenger = h, c },
	})

	if err := m.RecordTap(); err != nil {
		t.Fatalf("RecordTap: %v", err)
	}
	if err := m.RecordGift(2); err != nil {
		t.Fatalf("RecordGift: %v", err)
	}

	host, challenger := m.Scores()
	if host != 0 || challenger != 21 {
		t.Fatalf("scores = %d/%d, want 0/21", host, challenger)
	}
	if gotHost != 0 || gotChallenger != 21 {
		t.Fatalf("OnScores saw %d/%d", gotHost, gotChallenger)
	}

	score := pub.payload(protocol.EventBattleScoreUpdate).(*protocol.BattleScorePayload)
	if score.ChallengerScore != 21 || score.HostScore != 0 {
		t.Fatalf("published score = %+v", score)
	}
}

func TestRemoteScoreLastWriterWins(t *testing.T) {
	m, _, _ := activeChallenger(t, Config{})

	m.ApplyScoreUpdate(protocol.BattleScorePayload{BattleID: "battle-1", HostScore: 10, ChallengerScore: 5})
	m.ApplyScoreUpdate(protocol.BattleScorePayload{BattleID: "battle-1", HostScore: 10, ChallengerScore: 6})

	host, challenger := m.Scores()
	if host != 10 || challenger != 6 {
		t.Fatalf("scores = %d/%d, want the most recent pair 10/6", host, challenger)
	}

	// An update for a different battle is ignored.
	m.ApplyScoreUpdate(protocol.BattleScorePayload{BattleID: "other", HostScore: 99, ChallengerScore: 99})
	host, challenger = m.Scores()
	if host != 10 || challenger != 6 {
		t.Fatalf("scores = %d/%d after foreign update", host, challenger)
	}
}

func TestCountdownDeterminesWinner(t *testing.T) {
	var outcome Outcome
	completed := false
	m, _, now := activeChallenger(t, Config{
		OnCompleted: func(o Outcome) { outcome = o; completed = true },
	})

	m.ApplyScoreUpdate(protocol.BattleScorePayload{BattleID: "battle-1", HostScore: 3, ChallengerScore: 7})

	// Mid-battle the tick only reports remaining time.
	*now = now.Add(30 * time.Second)
	if m.tick() {
		t.Fatal("battle completed early")
	}

	*now = now.Add(31 * time.Second)
	if !m.tick() {
		t.Fatal("battle should complete past the time limit")
	}
	if !completed {
		t.Fatal("OnCompleted not invoked")
	}
	if outcome.Draw || outcome.WinnerStreamID != "challenger-room" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if m.Phase() != PhaseCompleted {
		t.Fatalf("phase = %v", m.Phase())
	}

	// Scoring after completion is rejected.
	if err := m.RecordTap(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("RecordTap after completion err = %v", err)
	}

	// Reset returns the machine to Idle for the next battle.
	m.Reset()
	if m.Phase() != PhaseIdle {
		t.Fatalf("phase after reset = %v", m.Phase())
	}
	if err := m.HandleInvite(testInvite()); err != nil {
		t.Fatalf("HandleInvite after reset: %v", err)
	}
}

func TestCountdownTie(t *testing.T) {
	var outcome Outcome
	m, _, now := activeChallenger(t, Config{
		OnCompleted: func(o Outcome) { outcome = o },
	})

	m.ApplyScoreUpdate(protocol.BattleScorePayload{BattleID: "battle-1", HostScore: 5, ChallengerScore: 5})

	*now = now.Add(2 * time.Minute)
	if !m.tick() {
		t.Fatal("battle should complete")
	}
	if !outcome.Draw || outcome.WinnerStreamID != "" {
		t.Fatalf("outcome = %+v, want draw", outcome)
	}
}

func TestBoosterMultipliesWhileActive(t *testing.T) {
	m, pub, now := activeChallenger(t, Config{})

	if err := m.ActivateBooster("x2", 2, time.Minute); err != nil {
		t.Fatalf("ActivateBooster: %v", err)
	}
	if !pub.sent(protocol.EventBoosterActivated) {
		t.Fatal("booster_activated not published")
	}

	m.RecordTap()
	_, challenger := m.Scores()
	if challenger != 2 {
		t.Fatalf("boosted tap = %d points, want 2", challenger)
	}

	// After the booster window the multiplier no longer applies.
	*now = now.Add(2 * time.Minute)
	m.RecordTap()
	_, challenger = m.Scores()
	if challenger != 3 {
		t.Fatalf("post-booster score = %d, want 3", challenger)
	}
}

func TestBoosterCallback(t *testing.T) {
	var got protocol.BoosterActivatedPayload
	m, _, _ := newQuietMachine(SideHost, Config{
		OnBooster: func(p protocol.BoosterActivatedPayload) { got = p },
	})

	m.HandleBooster(protocol.BoosterActivatedPayload{BattleID: "battle-1", BoosterID: "x2"})
	if got.BoosterID != "x2" {
		t.Fatalf("OnBooster saw %+v", got)
	}
}
