package user

import (
	"context"
	"errors"
	"testing"

	"gardenbot/internal/stock"
)

func TestValidRecipientID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id   string
		want bool
	}{
		{id: "123456", want: true},
		{id: "-1001234567890", want: true},
		{id: "", want: false},
		{id: "-", want: false},
		{id: "12a3", want: false},
		{id: "12-3", want: false},
		{id: " 123", want: false},
	}
	for _, tt := range tests {
		if got := ValidRecipientID(tt.id); got != tt.want {
			t.Fatalf("ValidRecipientID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestProfileWatchlist(t *testing.T) {
	t.Parallel()
	p := &Profile{RecipientID: "123"}

	if !p.AddWatch(stock.CategorySeeds, "Carrot") {
		t.Fatal("first AddWatch should report a change")
	}
	if p.AddWatch(stock.CategorySeeds, "Carrot") {
		t.Fatal("duplicate AddWatch should be a no-op")
	}
	if !p.Watches(stock.CategorySeeds, "Carrot") {
		t.Fatal("Watches should find the added item")
	}
	if p.Watches(stock.CategoryGear, "Carrot") {
		t.Fatal("watch is scoped to its category")
	}
	if p.Watches(stock.CategorySeeds, "carrot") {
		t.Fatal("matching is exact on the stored name")
	}

	if p.RemoveWatch(stock.CategorySeeds, "Tomato") {
		t.Fatal("removing an absent item should be a no-op")
	}
	if !p.RemoveWatch(stock.CategorySeeds, "Carrot") {
		t.Fatal("RemoveWatch should report a change")
	}
	if p.Watches(stock.CategorySeeds, "Carrot") {
		t.Fatal("item should be gone after RemoveWatch")
	}
}

func TestProfileClone(t *testing.T) {
	t.Parallel()
	p := &Profile{
		RecipientID: "123",
		Watchlists:  map[stock.Category][]string{stock.CategorySeeds: {"Carrot"}},
		Cooldowns:   map[string]int64{"Carrot": 42},
	}
	cp := p.Clone()
	cp.Watchlists[stock.CategorySeeds][0] = "Tomato"
	cp.Cooldowns["Carrot"] = 99

	if p.Watchlists[stock.CategorySeeds][0] != "Carrot" || p.Cooldowns["Carrot"] != 42 {
		t.Fatal("Clone shares state with the original")
	}

	var nilP *Profile
	if nilP.Clone() != nil {
		t.Fatal("nil Clone should be nil")
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.FindByRecipientID(ctx, "123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user = %v, want ErrNotFound", err)
	}

	p := &Profile{RecipientID: "123", Watchlists: map[stock.Category][]string{stock.CategorySeeds: {"Carrot"}}}
	if err := m.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	// Mutating the original after Upsert must not leak into the store.
	p.Watchlists[stock.CategorySeeds][0] = "Tomato"
	got, err := m.FindByRecipientID(ctx, "123")
	if err != nil {
		t.Fatalf("FindByRecipientID error: %v", err)
	}
	if got.Watchlists[stock.CategorySeeds][0] != "Carrot" {
		t.Fatal("store shares state with caller")
	}

	if err := m.Upsert(ctx, &Profile{RecipientID: "001"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	all, err := m.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	if len(all) != 2 || all[0].RecipientID != "001" || all[1].RecipientID != "123" {
		t.Fatalf("FindAll order = %+v, want sorted by recipient id", all)
	}

	if err := m.UpsertCooldowns(ctx, "123", map[string]int64{"Carrot": 7}); err != nil {
		t.Fatalf("UpsertCooldowns error: %v", err)
	}
	got, _ = m.FindByRecipientID(ctx, "123")
	if got.Cooldowns["Carrot"] != 7 {
		t.Fatalf("Cooldowns = %v", got.Cooldowns)
	}

	if err := m.Delete(ctx, "123"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := m.Delete(ctx, "123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}
