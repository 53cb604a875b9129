package stock

import (
	"sync"
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{in: "seeds", want: CategorySeeds, ok: true},
		{in: "Seed", want: CategorySeeds, ok: true},
		{in: "gear", want: CategoryGear, ok: true},
		{in: " EGGS ", want: CategoryEggs, ok: true},
		{in: "merchant", want: CategoryMerchant, ok: true},
		{in: "travelingmerchant", want: CategoryMerchant, ok: true},
		{in: "cosmetics", want: CategoryCosmetic, ok: true},
		{in: "events", want: CategoryEvent, ok: true},
		{in: "weather", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseCategory(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseCategory(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormatQuantity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n    int
		want string
	}{
		{n: 0, want: "x0"},
		{n: 7, want: "x7"},
		{n: 999, want: "x999"},
		{n: 1500, want: "x1.5K"},
		{n: 12000, want: "x12.0K"},
		{n: 2_300_000, want: "x2.3M"},
	}
	for _, tt := range tests {
		if got := FormatQuantity(tt.n); got != tt.want {
			t.Fatalf("FormatQuantity(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestSnapshotItemsNilSafe(t *testing.T) {
	t.Parallel()
	var s *Snapshot
	if got := s.Items(CategorySeeds); got != nil {
		t.Fatalf("nil snapshot Items = %v, want nil", got)
	}
	s = &Snapshot{}
	if got := s.Items(CategorySeeds); got != nil {
		t.Fatalf("empty snapshot Items = %v, want nil", got)
	}
}

func TestStoreSetClearLatest(t *testing.T) {
	t.Parallel()
	st := NewStore()

	if _, ok := st.Latest(); ok {
		t.Fatal("fresh store should have no snapshot")
	}

	snap := &Snapshot{
		TakenAt: time.Now(),
		Categories: map[Category][]Item{
			CategorySeeds: {{Name: "Carrot", Quantity: 50}},
		},
	}
	st.Set(snap)
	got, ok := st.Latest()
	if !ok || got != snap {
		t.Fatalf("Latest after Set = (%v, %v), want stored snapshot", got, ok)
	}

	st.Clear()
	if _, ok := st.Latest(); ok {
		t.Fatal("Latest after Clear should report no snapshot")
	}
}

// Concurrent readers must only ever see a complete snapshot or none at all,
// even while the writer swaps and clears. Run with -race.
func TestStoreConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	t.Parallel()
	st := NewStore()

	const versions = 4
	snaps := make([]*Snapshot, versions)
	for i := range snaps {
		snaps[i] = &Snapshot{
			TakenAt: time.Now(),
			Categories: map[Category][]Item{
				CategorySeeds: {{Name: "Carrot", Quantity: i + 1}},
			},
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, ok := st.Latest()
				if !ok {
					continue
				}
				items := snap.Items(CategorySeeds)
				if len(items) != 1 || items[0].Name != "Carrot" ||
					items[0].Quantity < 1 || items[0].Quantity > versions {
					t.Errorf("torn snapshot observed: %+v", items)
					return
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		st.Set(snaps[i%versions])
		if i%97 == 0 {
			st.Clear()
		}
	}
	close(stop)
	wg.Wait()
}
