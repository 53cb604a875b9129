package stock

import "sync/atomic"

// Store is a single-slot holder for the most recent valid snapshot.
//
// The feed client is the only writer; everything else reads. A whole snapshot
// is swapped behind one pointer, so readers always observe either the previous
// complete snapshot, the new complete snapshot, or "unavailable" - never a
// partially written one.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

func NewStore() *Store { return &Store{} }

// Set publishes a new snapshot, replacing the previous one wholesale.
func (s *Store) Set(snap *Snapshot) {
	if snap == nil {
		s.cur.Store(nil)
		return
	}
	s.cur.Store(snap)
}

// Clear marks the stock as unavailable (e.g. feed disconnected).
func (s *Store) Clear() { s.cur.Store(nil) }

// Latest returns the current snapshot, or ok=false if stock is unavailable.
// It never blocks.
func (s *Store) Latest() (*Snapshot, bool) {
	snap := s.cur.Load()
	return snap, snap != nil
}
