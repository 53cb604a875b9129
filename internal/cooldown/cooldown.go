// Package cooldown implements the per-user notification cooldown rules.
//
// Two timestamp caches live here:
//   - the persistent per-item ledger check (ShouldNotify/Mark), backed by the
//     user profile and written once per user per matching cycle
//   - PromptGate, a short-lived in-memory gate that keeps "please register"
//     prompts from repeating
package cooldown

import (
	"sync"
	"time"

	"gardenbot/internal/stock"
)

// Window is how long a user stays muted for an item after being notified.
const Window = 24 * time.Hour

// ShouldNotify reports whether an item in stock warrants a notification given
// the user's cooldown ledger (item name -> unix millis of last notification).
//
// True iff the item has stock AND it was never notified or the last
// notification is older than the rolling window. The feed reports the same
// in-stock item across many consecutive cycles; this check is what keeps that
// from becoming one alert per cycle.
func ShouldNotify(ledger map[string]int64, item stock.Item, now time.Time) bool {
	if item.Quantity <= 0 {
		return false
	}
	last, ok := ledger[item.Name]
	if !ok {
		return true
	}
	return now.UnixMilli()-last > Window.Milliseconds()
}

// Mark records a notification for the item in the in-memory ledger. Entries
// only move forward so a replayed or out-of-order mark can never shrink a
// cooldown.
func Mark(ledger map[string]int64, item string, now time.Time) {
	ms := now.UnixMilli()
	if last, ok := ledger[item]; ok && last >= ms {
		return
	}
	ledger[item] = ms
}

// PromptGate rate-limits registration prompts per recipient.
//
// Entries are not actively evicted; staleness is checked lazily on TryPrompt.
// The gate is process-local and lost on restart, which is acceptable: it only
// rate-limits, it does not affect correctness.
type PromptGate struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]int64 // recipient id -> unix millis of last prompt
}

// NewPromptGate creates a gate with the given suppression window.
// now may be nil (defaults to time.Now); tests inject a fake clock.
func NewPromptGate(ttl time.Duration, now func() time.Time) *PromptGate {
	if now == nil {
		now = time.Now
	}
	return &PromptGate{ttl: ttl, now: now, seen: map[string]int64{}}
}

// TryPrompt reports whether the caller should send a prompt to the recipient.
// On true the current time is recorded, opening a new suppression window.
func (g *PromptGate) TryPrompt(recipientID string) bool {
	nowMS := g.now().UnixMilli()
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.seen[recipientID]; ok && nowMS-last < g.ttl.Milliseconds() {
		return false
	}
	g.seen[recipientID] = nowMS
	return true
}

// Clear drops the recipient's suppression window. Called on successful
// registration so a later unregistration is not subject to a stale window.
func (g *PromptGate) Clear(recipientID string) {
	g.mu.Lock()
	delete(g.seen, recipientID)
	g.mu.Unlock()
}
