package feed

import (
	"testing"
	"time"

	"gardenbot/internal/stock"
)

func TestParseSnapshot(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	payload := []byte(`{
		"status": "success",
		"data": {
			"seed": {"items": [
				{"name": "Carrot", "quantity": 50, "emoji": "🥕"},
				{"name": "", "quantity": 3},
				{"name": "Tomato", "quantity": -2}
			]},
			"gear": {"items": [{"name": "Sprinkler", "quantity": 1}]},
			"travelingmerchant": {"items": []},
			"weather": {"items": [{"name": "Rain", "quantity": 1}]}
		}
	}`)

	snap, err := ParseSnapshot(payload, at)
	if err != nil {
		t.Fatalf("ParseSnapshot error: %v", err)
	}
	if !snap.TakenAt.Equal(at) {
		t.Fatalf("TakenAt = %v, want %v", snap.TakenAt, at)
	}

	seeds := snap.Items(stock.CategorySeeds)
	if len(seeds) != 2 {
		t.Fatalf("seeds = %v, want 2 items (empty name dropped)", seeds)
	}
	if seeds[0].Name != "Carrot" || seeds[0].Quantity != 50 || seeds[0].Emoji != "🥕" {
		t.Fatalf("unexpected first seed: %+v", seeds[0])
	}
	if seeds[1].Name != "Tomato" || seeds[1].Quantity != 0 {
		t.Fatalf("negative quantity not clamped: %+v", seeds[1])
	}

	if got := snap.Items(stock.CategoryGear); len(got) != 1 || got[0].Name != "Sprinkler" {
		t.Fatalf("gear = %v", got)
	}
	if got := snap.Items(stock.CategoryMerchant); len(got) != 0 {
		t.Fatalf("merchant = %v, want empty", got)
	}

	// Unknown payload keys are ignored, not mapped anywhere.
	for _, c := range stock.All {
		for _, item := range snap.Items(c) {
			if item.Name == "Rain" {
				t.Fatalf("unknown key leaked into category %s", c)
			}
		}
	}
}

func TestParseSnapshotRejects(t *testing.T) {
	t.Parallel()
	at := time.Now()
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{{`},
		{name: "error status", payload: `{"status": "error", "data": {}}`},
		{name: "missing status", payload: `{"data": {}}`},
		{name: "missing data", payload: `{"status": "success"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseSnapshot([]byte(tt.payload), at); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
