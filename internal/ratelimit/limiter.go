// Package ratelimit provides a fixed-window in-process limiter keyed by
// user and action. Counters are private to the process; a multi-instance
// deployment needs a shared store instead.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Action names gated by the limiter.
const (
	ActionChatSend     = "chat:send"
	ActionGiftSend     = "gift:send"
	ActionBattleInvite = "battle:invite"
)

// Rule is one action's window and quota.
type Rule struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultRules gates the socket-triggered actions.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionChatSend:     {Window: time.Minute, MaxRequests: 20},
		ActionGiftSend:     {Window: time.Second, MaxRequests: 10},
		ActionBattleInvite: {Window: time.Minute, MaxRequests: 3},
	}
}

// Result of a limiter check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per (userID, action) in fixed windows.
type Limiter struct {
	rules   map[string]Rule
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time

	sweepEvery time.Duration
	sweepAfter time.Duration
	cancel     context.CancelFunc
}

func NewLimiter(rules map[string]Rule) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Limiter{
		rules:      rules,
		windows:    make(map[string]*window),
		now:        time.Now,
		sweepEvery: 5 * time.Minute,
		sweepAfter: 5 * time.Minute,
	}
}

func key(userID, action string) string {
	return fmt.Sprintf("%s:%s", userID, action)
}

// Check records one request. Actions without a rule are always allowed.
func (l *Limiter) Check(userID, action string) Result {
	rule, ok := l.rules[action]
	if !ok {
		return Result{Allowed: true}
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(userID, action)
	w, ok := l.windows[k]
	if !ok || now.After(w.resetAt) {
		l.windows[k] = &window{count: 1, resetAt: now.Add(rule.Window)}
		return Result{Allowed: true, Remaining: rule.MaxRequests - 1}
	}

	if w.count < rule.MaxRequests {
		w.count++
		return Result{Allowed: true, Remaining: rule.MaxRequests - w.count}
	}

	return Result{Allowed: false, RetryAfter: w.resetAt.Sub(now)}
}

// Start launches the periodic sweep of long-expired windows.
func (l *Limiter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go func() {
		ticker := time.NewTicker(l.sweepEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

// Stop cancels the sweep loop.
func (l *Limiter) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.sweepAfter)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, w := range l.windows {
		if w.resetAt.Before(cutoff) {
			delete(l.windows, k)
		}
	}
}
