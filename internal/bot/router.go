// Package bot handles inbound chat commands: registration, watchlist edits,
// and on-demand stock queries.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gardenbot/internal/cooldown"
	"gardenbot/internal/stock"
	"gardenbot/internal/transport"
	"gardenbot/internal/user"
	logx "gardenbot/pkg/logx"
)

const replyTimeout = 5 * time.Second

type Router struct {
	log     logx.Logger
	users   user.Store
	stocks  *stock.Store
	adapter transport.Adapter
	gate    *cooldown.PromptGate
	loc     *time.Location
}

func NewRouter(users user.Store, stocks *stock.Store, adapter transport.Adapter, gate *cooldown.PromptGate, loc *time.Location, log logx.Logger) *Router {
	if loc == nil {
		loc = time.Local
	}
	return &Router{
		log:     log,
		users:   users,
		stocks:  stocks,
		adapter: adapter,
		gate:    gate,
		loc:     loc,
	}
}

// Run consumes inbound messages until ctx is canceled. Each message is handled
// with panic isolation so one bad input can't kill the loop.
func (r *Router) Run(ctx context.Context, in <-chan transport.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg transport.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("command handler panicked",
				logx.Int64("chat_id", msg.ChatID),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	id := strconv.FormatInt(msg.ChatID, 10)
	if !user.ValidRecipientID(id) {
		return
	}

	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	// Group chats address commands as /cmd@botname.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		r.reply(ctx, msg.ChatID, helpText)
	case "/watch":
		r.cmdWatch(ctx, id, msg, args)
	case "/unwatch":
		r.cmdUnwatch(ctx, id, msg, args)
	case "/list":
		r.cmdList(ctx, id, msg)
	case "/stock":
		r.cmdStock(ctx, msg, args)
	case "/unregister":
		r.cmdUnregister(ctx, id, msg)
	default:
		// Anything else from an unregistered recipient earns at most one
		// registration prompt per throttle window.
		_, err := r.users.FindByRecipientID(ctx, id)
		switch {
		case errors.Is(err, user.ErrNotFound):
			r.promptRegister(ctx, id, msg.ChatID)
		case err != nil:
			// Can't tell registered from not; stay quiet rather than nag a
			// registered user to register.
			r.log.Error("profile lookup failed", logx.String("recipient", id), logx.Err(err))
		default:
			r.reply(ctx, msg.ChatID, "Unknown command. Try /help.")
		}
	}
}

const helpText = `🌱 gardenbot watches the shop for you.

/watch <category> <item>   - get alerts when an item restocks
/unwatch <category> <item> - stop watching an item
/list                      - show your watchlists
/stock [category]          - show current stock
/unregister                - delete your profile

Categories: seeds, gear, eggs, merchant`

func (r *Router) cmdWatch(ctx context.Context, id string, msg transport.Message, args []string) {
	cat, item, ok := parseItemArgs(args)
	if !ok {
		r.reply(ctx, msg.ChatID, "Usage: /watch <category> <item>\nCategories: seeds, gear, eggs, merchant")
		return
	}

	p, err := r.users.FindByRecipientID(ctx, id)
	created := false
	switch {
	case errors.Is(err, user.ErrNotFound):
		// First successful watch creates the profile.
		p = &user.Profile{
			RecipientID: id,
			DisplayName: msg.FromUsername,
			Watchlists:  map[stock.Category][]string{},
			Cooldowns:   map[string]int64{},
		}
		created = true
	case err != nil:
		// A storage failure must not be mistaken for "new user": a fresh
		// profile Upsert here would wipe the existing watchlists.
		r.log.Error("profile lookup failed", logx.String("recipient", id), logx.Err(err))
		r.reply(ctx, msg.ChatID, "Something went wrong, please try again.")
		return
	}

	if !p.AddWatch(cat, item) {
		r.reply(ctx, msg.ChatID, fmt.Sprintf("You already watch %q in %s.", item, cat.Title()))
		return
	}
	if err := r.users.Upsert(ctx, p); err != nil {
		r.log.Error("profile upsert failed", logx.String("recipient", id), logx.Err(err))
		r.reply(ctx, msg.ChatID, "Something went wrong saving your watchlist. Please try again.")
		return
	}
	if created {
		// A freshly registered user must never inherit a stale prompt window.
		r.gate.Clear(id)
		r.reply(ctx, msg.ChatID, fmt.Sprintf("Registered! Watching %q in %s. You'll be alerted when it restocks (at most once a day per item).", item, cat.Title()))
		return
	}
	r.reply(ctx, msg.ChatID, fmt.Sprintf("Watching %q in %s.", item, cat.Title()))
}

func (r *Router) cmdUnwatch(ctx context.Context, id string, msg transport.Message, args []string) {
	cat, item, ok := parseItemArgs(args)
	if !ok {
		r.reply(ctx, msg.ChatID, "Usage: /unwatch <category> <item>")
		return
	}
	p, err := r.users.FindByRecipientID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		r.promptRegister(ctx, id, msg.ChatID)
		return
	}
	if err != nil {
		r.log.Error("profile lookup failed", logx.String("recipient", id), logx.Err(err))
		r.reply(ctx, msg.ChatID, "Something went wrong, please try again.")
		return
	}
	if !p.RemoveWatch(cat, item) {
		r.reply(ctx, msg.ChatID, fmt.Sprintf("You don't watch %q in %s.", item, cat.Title()))
		return
	}
	if err := r.users.Upsert(ctx, p); err != nil {
		r.log.Error("profile upsert failed", logx.String("recipient", id), logx.Err(err))
		r.reply(ctx, msg.ChatID, "Something went wrong saving your watchlist. Please try again.")
		return
	}
	r.reply(ctx, msg.ChatID, fmt.Sprintf("Stopped watching %q in %s.", item, cat.Title()))
}

func (r *Router) cmdList(ctx context.Context, id string, msg transport.Message) {
	p, err := r.users.FindByRecipientID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		r.promptRegister(ctx, id, msg.ChatID)
		return
	}
	if err != nil {
		r.log.Error("profile lookup failed", logx.String("recipient", id), logx.Err(err))
		r.reply(ctx, msg.ChatID, "Something went wrong, please try again.")
		return
	}
	var b strings.Builder
	b.WriteString("Your watchlists:\n")
	empty := true
	for _, cat := range stock.Watchable {
		items := p.Watchlists[cat]
		if len(items) == 0 {
			continue
		}
		empty = false
		b.WriteString(fmt.Sprintf("\n%s:\n", cat.Title()))
		for _, it := range items {
			b.WriteString("• " + it + "\n")
		}
	}
	if empty {
		r.reply(ctx, msg.ChatID, "Your watchlists are empty. Add items with /watch.")
		return
	}
	r.reply(ctx, msg.ChatID, strings.TrimRight(b.String(), "\n"))
}

// cmdStock answers an on-demand stock query. It only reads the snapshot store;
// no lock is shared with the matching engine's ledger writes.
func (r *Router) cmdStock(ctx context.Context, msg transport.Message, args []string) {
	snap, ok := r.stocks.Latest()
	if !ok {
		r.reply(ctx, msg.ChatID, "Stock is unavailable right now, try again in a moment.")
		return
	}

	cats := stock.All
	if len(args) > 0 {
		cat, ok := stock.ParseCategory(args[0])
		if !ok {
			r.reply(ctx, msg.ChatID, "Unknown category. Categories: seeds, gear, eggs, merchant, cosmetics, event")
			return
		}
		cats = []stock.Category{cat}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🌱 Current stock (%s)\n", snap.TakenAt.In(r.loc).Format("2 Jan 15:04 MST")))
	for _, cat := range cats {
		items := snap.Items(cat)
		if len(items) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("\n%s:\n", cat.Title()))
		for _, it := range items {
			if it.Emoji != "" {
				b.WriteString(fmt.Sprintf("• %s %s: %s\n", it.Emoji, it.Name, stock.FormatQuantity(it.Quantity)))
			} else {
				b.WriteString(fmt.Sprintf("• %s: %s\n", it.Name, stock.FormatQuantity(it.Quantity)))
			}
		}
	}
	r.reply(ctx, msg.ChatID, strings.TrimRight(b.String(), "\n"))
}

// cmdUnregister is the only deletion path for a profile.
func (r *Router) cmdUnregister(ctx context.Context, id string, msg transport.Message) {
	err := r.users.Delete(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		r.reply(ctx, msg.ChatID, "You're not registered.")
		return
	}
	if err != nil {
		r.log.Error("profile delete failed", logx.String("recipient", id), logx.Err(err))
		r.reply(ctx, msg.ChatID, "Something went wrong, please try again.")
		return
	}
	r.reply(ctx, msg.ChatID, "Your profile and watchlists were deleted. Use /watch to register again.")
}

func (r *Router) promptRegister(ctx context.Context, id string, chatID int64) {
	if !r.gate.TryPrompt(id) {
		return
	}
	r.reply(ctx, chatID, "You're not registered yet. Add your first item with /watch <category> <item> to get restock alerts.")
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	sctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := r.adapter.SendText(sctx, transport.Target{ChatID: chatID}, text, &transport.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func parseItemArgs(args []string) (stock.Category, string, bool) {
	if len(args) < 2 {
		return "", "", false
	}
	cat, ok := stock.ParseCategory(args[0])
	if !ok || !watchable(cat) {
		return "", "", false
	}
	item := strings.TrimSpace(strings.Join(args[1:], " "))
	if item == "" {
		return "", "", false
	}
	return cat, item, true
}

func watchable(c stock.Category) bool {
	for _, w := range stock.Watchable {
		if w == c {
			return true
		}
	}
	return false
}
