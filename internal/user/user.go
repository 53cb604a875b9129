// Package user defines registered recipients and the persistence contract for
// their watchlists and notification cooldowns.
package user

import (
	"context"
	"errors"
	"slices"

	"gardenbot/internal/stock"
)

var ErrNotFound = errors.New("user not found")

// Profile is one registered recipient.
//
// Watchlists hold item names per watchable category; order is preserved for
// display but irrelevant for matching. Cooldowns maps item name to the unix
// millisecond timestamp of the last notification for that item; entries are
// monotonically non-decreasing and never removed automatically.
type Profile struct {
	RecipientID string
	DisplayName string
	Watchlists  map[stock.Category][]string
	Cooldowns   map[string]int64
}

// Clone returns a deep copy so callers can mutate freely before persisting.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := &Profile{
		RecipientID: p.RecipientID,
		DisplayName: p.DisplayName,
		Watchlists:  make(map[stock.Category][]string, len(p.Watchlists)),
		Cooldowns:   make(map[string]int64, len(p.Cooldowns)),
	}
	for c, items := range p.Watchlists {
		cp.Watchlists[c] = slices.Clone(items)
	}
	for k, v := range p.Cooldowns {
		cp.Cooldowns[k] = v
	}
	return cp
}

// Watches reports whether the profile watches the named item in a category.
// Matching is exact on the stored name.
func (p *Profile) Watches(c stock.Category, item string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Watchlists[c], item)
}

// AddWatch appends an item to a category watchlist if not already present.
// Reports whether the list changed.
func (p *Profile) AddWatch(c stock.Category, item string) bool {
	if p.Watchlists == nil {
		p.Watchlists = map[stock.Category][]string{}
	}
	if slices.Contains(p.Watchlists[c], item) {
		return false
	}
	p.Watchlists[c] = append(p.Watchlists[c], item)
	return true
}

// RemoveWatch removes an item from a category watchlist.
// Reports whether the list changed.
func (p *Profile) RemoveWatch(c stock.Category, item string) bool {
	items := p.Watchlists[c]
	i := slices.Index(items, item)
	if i < 0 {
		return false
	}
	p.Watchlists[c] = slices.Delete(items, i, i+1)
	return true
}

// Store is the persistence contract for user profiles.
//
// Implementations must provide read-your-writes consistency within a single
// process; no cross-user transactionality is required since each profile is an
// independent record.
type Store interface {
	FindAll(ctx context.Context) ([]*Profile, error)
	FindByRecipientID(ctx context.Context, id string) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
	// UpsertCooldowns replaces the entire cooldown ledger for one user in a
	// single write. The matching engine calls this once per notified user per
	// cycle, after all categories have been checked.
	UpsertCooldowns(ctx context.Context, id string, ledger map[string]int64) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// ValidRecipientID reports whether id looks like a platform recipient
// identifier (non-empty numeric string, optional leading minus for group
// chats).
func ValidRecipientID(id string) bool {
	if id == "" {
		return false
	}
	for i, r := range id {
		if r == '-' && i == 0 && len(id) > 1 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
