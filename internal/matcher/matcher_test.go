package matcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gardenbot/internal/dispatch"
	"gardenbot/internal/stock"
	"gardenbot/internal/user"
	logx "gardenbot/pkg/logx"
)

type captureEnqueuer struct {
	tasks []dispatch.Task
	err   error
}

func (e *captureEnqueuer) Enqueue(t dispatch.Task) error {
	if e.err != nil {
		return e.err
	}
	e.tasks = append(e.tasks, t)
	return nil
}

func seedSnapshot(items ...stock.Item) *stock.Snapshot {
	return &stock.Snapshot{
		TakenAt:    time.Now(),
		Categories: map[stock.Category][]stock.Item{stock.CategorySeeds: items},
	}
}

func newTestService(t *testing.T, users user.Store, stocks *stock.Store, out Enqueuer) *Service {
	t.Helper()
	s, err := New(Config{}, users, stocks, out, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return s
}

func TestRunOnceNotifiesAndRespectsCooldown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	users := user.NewMemoryStore()
	stocks := stock.NewStore()
	out := &captureEnqueuer{}

	p := &user.Profile{RecipientID: "123", DisplayName: "alice"}
	p.AddWatch(stock.CategorySeeds, "Carrot")
	if err := users.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	stocks.Set(seedSnapshot(
		stock.Item{Name: "Carrot", Quantity: 50, Emoji: "🥕"},
		stock.Item{Name: "Tomato", Quantity: 10},
	))

	s := newTestService(t, users, stocks, out)
	runAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return runAt }

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if len(out.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(out.tasks))
	}
	task := out.tasks[0]
	if task.RecipientID != "123" {
		t.Fatalf("recipient = %q", task.RecipientID)
	}
	if !strings.Contains(task.Text, "Carrot") || !strings.Contains(task.Text, "x50") {
		t.Fatalf("message missing matched item: %q", task.Text)
	}
	if strings.Contains(task.Text, "Tomato") {
		t.Fatalf("unwatched item leaked into message: %q", task.Text)
	}

	got, err := users.FindByRecipientID(ctx, "123")
	if err != nil {
		t.Fatalf("FindByRecipientID error: %v", err)
	}
	if got.Cooldowns["Carrot"] != runAt.UnixMilli() {
		t.Fatalf("ledger = %v, want Carrot marked at run time", got.Cooldowns)
	}

	// Same stock five minutes later: still on cooldown, nothing new goes out.
	s.now = func() time.Time { return runAt.Add(5 * time.Minute) }
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if len(out.tasks) != 1 {
		t.Fatalf("tasks after cooldown rerun = %d, want still 1", len(out.tasks))
	}

	// Past the window the same item notifies again.
	s.now = func() time.Time { return runAt.Add(24*time.Hour + time.Minute) }
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if len(out.tasks) != 2 {
		t.Fatalf("tasks after window = %d, want 2", len(out.tasks))
	}
}

func TestRunOnceNoSnapshotIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	users := user.NewMemoryStore()
	out := &captureEnqueuer{}

	p := &user.Profile{RecipientID: "123"}
	p.AddWatch(stock.CategorySeeds, "Carrot")
	if err := users.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	s := newTestService(t, users, stock.NewStore(), out)
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if len(out.tasks) != 0 {
		t.Fatalf("tasks = %d, want 0 without a snapshot", len(out.tasks))
	}
}

func TestRunOnceSkipsMalformedUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	users := user.NewMemoryStore()
	stocks := stock.NewStore()
	out := &captureEnqueuer{}

	bad := &user.Profile{RecipientID: "abc"}
	bad.AddWatch(stock.CategorySeeds, "Carrot")
	good := &user.Profile{RecipientID: "456"}
	good.AddWatch(stock.CategorySeeds, "Carrot")
	for _, p := range []*user.Profile{bad, good} {
		if err := users.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert error: %v", err)
		}
	}
	stocks.Set(seedSnapshot(stock.Item{Name: "Carrot", Quantity: 5}))

	s := newTestService(t, users, stocks, out)
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if len(out.tasks) != 1 || out.tasks[0].RecipientID != "456" {
		t.Fatalf("tasks = %+v, want only the valid user notified", out.tasks)
	}
}

func TestRunOnceFailedEnqueueDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	users := user.NewMemoryStore()
	stocks := stock.NewStore()
	out := &captureEnqueuer{err: errors.New("queue full")}

	p := &user.Profile{RecipientID: "123"}
	p.AddWatch(stock.CategorySeeds, "Carrot")
	if err := users.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	stocks.Set(seedSnapshot(stock.Item{Name: "Carrot", Quantity: 5}))

	s := newTestService(t, users, stocks, out)
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	// The ledger write happened before the failed enqueue, so the user stays
	// muted for this item even though no message went out.
	got, err := users.FindByRecipientID(ctx, "123")
	if err != nil {
		t.Fatalf("FindByRecipientID error: %v", err)
	}
	if _, ok := got.Cooldowns["Carrot"]; !ok {
		t.Fatal("ledger not persisted before enqueue")
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	users := user.NewMemoryStore()
	stocks := stock.NewStore()
	stocks.Set(seedSnapshot(stock.Item{Name: "Carrot", Quantity: 5}))

	out := &captureEnqueuer{}
	s := newTestService(t, users, stocks, out)

	s.running.Store(true)
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !s.running.Load() {
		t.Fatal("skipped run must not release the in-progress flag")
	}
}
