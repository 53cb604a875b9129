// Package matcher runs the scheduled pass that compares user watchlists
// against the current stock snapshot and produces dispatch tasks.
package matcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"gardenbot/internal/cooldown"
	"gardenbot/internal/dispatch"
	"gardenbot/internal/stock"
	"gardenbot/internal/user"
	logx "gardenbot/pkg/logx"
)

type Config struct {
	// Spec is a cron expression; the default fires every 5 minutes aligned to
	// minute boundaries (:00, :05, ...).
	Spec string
	// Timezone is the fixed reference zone used in message timestamps.
	Timezone string
}

// Enqueuer receives the dispatch tasks a run produces.
type Enqueuer interface {
	Enqueue(t dispatch.Task) error
}

type Service struct {
	cfg    Config
	log    logx.Logger
	users  user.Store
	stocks *stock.Store
	out    Enqueuer
	loc    *time.Location
	now    func() time.Time

	c *cron.Cron
	// running guards against a scheduled run overlapping a slow prior run.
	// An overlapping tick is skipped, not queued.
	running atomic.Bool
}

func New(cfg Config, users user.Store, stocks *stock.Store, out Enqueuer, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = "*/5 * * * *"
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("matcher.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		users:  users,
		stocks: stocks,
		out:    out,
		loc:    loc,
		now:    time.Now,
	}, nil
}

// Start registers the cron schedule and begins ticking.
func (s *Service) Start(ctx context.Context) error {
	if s.c != nil {
		return nil
	}
	c := cron.New(cron.WithLocation(s.loc))
	_, err := c.AddFunc(s.cfg.Spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("matching run failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("matcher schedule %q: %w", s.cfg.Spec, err)
	}
	s.c = c
	c.Start()
	s.log.Info("matcher started", logx.String("spec", s.cfg.Spec), logx.String("tz", s.loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	c := s.c
	if c == nil {
		return
	}
	s.c = nil
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce executes one full matching pass.
//
// Users are processed independently: a failure for one user is logged and that
// user is skipped for this cycle only (their ledger is not persisted, so they
// stay eligible next cycle). Other users are unaffected.
func (s *Service) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("matching run still in progress; skipping tick")
		return nil
	}
	defer s.running.Store(false)

	snap, ok := s.stocks.Latest()
	if !ok {
		s.log.Info("no stock snapshot; skipping matching run")
		return nil
	}
	now := s.now()

	users, err := s.users.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	notified := 0
	for _, p := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.matchUser(ctx, p, snap, now) {
			notified++
		}
	}
	s.log.Info("matching run complete",
		logx.Int("users", len(users)),
		logx.Int("notified", notified),
		logx.Duration("took", s.now().Sub(now)))
	return nil
}

// matchUser checks all watchable categories for one user and, on any match,
// persists the updated ledger in one write and enqueues one dispatch task.
// Reports whether the user was notified.
func (s *Service) matchUser(ctx context.Context, p *user.Profile, snap *stock.Snapshot, now time.Time) (notified bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("matching panicked for user; skipping this cycle",
				logx.String("recipient", safeRecipient(p)),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			notified = false
		}
	}()

	if p == nil || !user.ValidRecipientID(p.RecipientID) {
		s.log.Warn("malformed user profile; skipping", logx.String("recipient", safeRecipient(p)))
		return false
	}
	if p.Cooldowns == nil {
		p.Cooldowns = map[string]int64{}
	}

	var b strings.Builder
	for _, cat := range stock.Watchable {
		var lines []string
		for _, item := range snap.Items(cat) {
			if !p.Watches(cat, item.Name) {
				continue
			}
			if !cooldown.ShouldNotify(p.Cooldowns, item, now) {
				continue
			}
			lines = append(lines, formatLine(item))
			cooldown.Mark(p.Cooldowns, item.Name, now)
		}
		if len(lines) > 0 {
			b.WriteString(cat.Title())
			b.WriteString(":\n")
			b.WriteString(strings.Join(lines, "\n"))
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return false
	}

	// One ledger write per notified user per cycle, after all categories.
	// The write happens before the send on purpose: a failed send must not
	// cause a retry storm next cycle.
	if err := s.users.UpsertCooldowns(ctx, p.RecipientID, p.Cooldowns); err != nil {
		s.log.Error("cooldown ledger write failed; user skipped this cycle",
			logx.String("recipient", p.RecipientID), logx.Err(err))
		return false
	}

	text := buildMessage(b.String(), now.In(s.loc))
	if err := s.out.Enqueue(dispatch.Task{RecipientID: p.RecipientID, Text: text}); err != nil {
		s.log.Warn("dispatch enqueue failed", logx.String("recipient", p.RecipientID), logx.Err(err))
		return false
	}
	return true
}

func formatLine(item stock.Item) string {
	if item.Emoji != "" {
		return fmt.Sprintf("• %s %s: %s", item.Emoji, item.Name, stock.FormatQuantity(item.Quantity))
	}
	return fmt.Sprintf("• %s: %s", item.Name, stock.FormatQuantity(item.Quantity))
}

func buildMessage(body string, at time.Time) string {
	return fmt.Sprintf("🌱 Watched items in stock (%s)\n\n%s", at.Format("2 Jan 15:04 MST"), strings.TrimRight(body, "\n"))
}

func safeRecipient(p *user.Profile) string {
	if p == nil {
		return "<nil>"
	}
	return p.RecipientID
}
