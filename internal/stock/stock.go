package stock

import (
	"fmt"
	"strings"
	"time"
)

// Category identifies one section of the rotating shop.
type Category string

const (
	CategorySeeds    Category = "seeds"
	CategoryGear     Category = "gear"
	CategoryEggs     Category = "eggs"
	CategoryMerchant Category = "merchant"
	CategoryCosmetic Category = "cosmetic"
	CategoryEvent    Category = "event"
)

// Watchable lists the categories users can put items on a watchlist for.
// Cosmetic and event stock is shown on demand but not watchable.
var Watchable = []Category{CategorySeeds, CategoryGear, CategoryEggs, CategoryMerchant}

// All lists every category in display order.
var All = []Category{CategorySeeds, CategoryGear, CategoryEggs, CategoryMerchant, CategoryCosmetic, CategoryEvent}

// ParseCategory resolves user input (including a few aliases) to a Category.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "seed", "seeds":
		return CategorySeeds, true
	case "gear", "gears":
		return CategoryGear, true
	case "egg", "eggs":
		return CategoryEggs, true
	case "merchant", "travelingmerchant", "traveling-merchant":
		return CategoryMerchant, true
	case "cosmetic", "cosmetics":
		return CategoryCosmetic, true
	case "event", "events":
		return CategoryEvent, true
	default:
		return "", false
	}
}

// Title returns a human-readable category heading.
func (c Category) Title() string {
	switch c {
	case CategorySeeds:
		return "Seeds"
	case CategoryGear:
		return "Gear"
	case CategoryEggs:
		return "Eggs"
	case CategoryMerchant:
		return "Traveling Merchant"
	case CategoryCosmetic:
		return "Cosmetics"
	case CategoryEvent:
		return "Event Shop"
	default:
		return string(c)
	}
}

// Item is one shop entry at a point in time.
type Item struct {
	Name     string
	Quantity int
	Emoji    string
}

// Snapshot is one complete reading of the shop across all categories.
//
// Snapshots are immutable by convention: the feed client builds a fresh one per
// message and callers must never mutate a snapshot after publishing it.
type Snapshot struct {
	TakenAt    time.Time
	Categories map[Category][]Item
}

// Items returns the item list for a category (nil if the category is absent).
func (s *Snapshot) Items(c Category) []Item {
	if s == nil || s.Categories == nil {
		return nil
	}
	return s.Categories[c]
}

// FormatQuantity renders a stock quantity compactly: x999, x1.5K, x2.3M.
func FormatQuantity(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("x%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("x%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("x%d", n)
	}
}
