// Package app wires the bot together: config, logging, storage, the feed
// client, the matching engine, the dispatcher, and the Telegram adapter, all
// under one supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"gardenbot/internal/bot"
	"gardenbot/internal/config"
	"gardenbot/internal/cooldown"
	"gardenbot/internal/dispatch"
	"gardenbot/internal/feed"
	"gardenbot/internal/matcher"
	"gardenbot/internal/runtime/supervisor"
	"gardenbot/internal/stock"
	"gardenbot/internal/storage"
	"gardenbot/internal/transport"
	"gardenbot/internal/transport/telegram"
	"gardenbot/internal/user"
	logx "gardenbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	users   user.Store
	stocks  *stock.Store
	adapter transport.Adapter
	feed    *feed.Client
	match   *matcher.Service
	disp    *dispatch.Service
	router  *bot.Router

	messages chan transport.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	users, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	stocks := stock.NewStore()

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		SendTimeout: sendTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	pingInterval, err := config.ParseDurationOrDefault("feed.ping_interval", cfg.Feed.PingInterval, 10*time.Second)
	if err != nil {
		return nil, err
	}
	reconnectDelay, err := config.ParseDurationOrDefault("feed.reconnect_delay", cfg.Feed.ReconnectDelay, 3*time.Second)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Feed.URL) == "" {
		return nil, fmt.Errorf("feed.url is required")
	}
	feedc := feed.NewClient(feed.Config{
		URL:            cfg.Feed.URL,
		PingInterval:   pingInterval,
		ReconnectDelay: reconnectDelay,
	}, stocks, log.With(logx.String("comp", "feed")))

	dispSendTimeout, err := config.ParseDurationOrDefault("dispatcher.send_timeout", cfg.Dispatcher.SendTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispatch.Config{
		Workers:     cfg.Dispatcher.Workers,
		QueueSize:   cfg.Dispatcher.QueueSize,
		RatePerSec:  cfg.Dispatcher.RatePerSec,
		SendTimeout: dispSendTimeout,
	}, adapter, log.With(logx.String("comp", "dispatch")))

	match, err := matcher.New(matcher.Config{
		Spec:     cfg.Matcher.Spec,
		Timezone: cfg.Matcher.Timezone,
	}, users, stocks, disp, log.With(logx.String("comp", "matcher")))
	if err != nil {
		return nil, err
	}

	promptWindow, err := config.ParseDurationOrDefault("telegram.prompt_window", cfg.Telegram.PromptWindow, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	gate := cooldown.NewPromptGate(promptWindow, nil)

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Matcher.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("matcher.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	router := bot.NewRouter(users, stocks, adapter, gate, loc, log.With(logx.String("comp", "bot")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		users:    users,
		stocks:   stocks,
		adapter:  adapter,
		feed:     feedc,
		match:    match,
		disp:     disp,
		router:   router,
		messages: make(chan transport.Message, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(false),
	)
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Feed.URL) == "" {
			return fmt.Errorf("feed.url is required")
		}
		for path, raw := range map[string]string{
			"telegram.poll_timeout":   cfg.Telegram.PollTimeout,
			"telegram.send_timeout":   cfg.Telegram.SendTimeout,
			"telegram.prompt_window":  cfg.Telegram.PromptWindow,
			"feed.ping_interval":      cfg.Feed.PingInterval,
			"feed.reconnect_delay":    cfg.Feed.ReconnectDelay,
			"dispatcher.send_timeout": cfg.Dispatcher.SendTimeout,
		} {
			if _, err := config.ParseDurationField(path, raw); err != nil {
				return err
			}
		}
		if tz := strings.TrimSpace(cfg.Matcher.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("matcher.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	if err := a.adapter.Start(runCtx, a.messages); err != nil {
		return err
	}
	a.disp.Start(runCtx)
	if err := a.match.Start(runCtx); err != nil {
		return err
	}

	// The feed client restarts forever on its own; GoRestart adds panic
	// containment on top.
	a.sup.GoRestart("feed.run", a.feed.Run)
	a.sup.Go("bot.router", func(c context.Context) error {
		return a.router.Run(c, a.messages)
	})

	// Config hot reload: only logging changes apply live; everything else
	// needs a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied")
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notifySystemd(runCtx)

	a.log.Info("app started")
	return nil
}

// notifySystemd reports readiness and keeps the watchdog fed when the process
// runs under systemd. Both calls are no-ops outside a systemd unit.
func (a *App) notifySystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify: ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the
	// whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("matcher", 2*time.Second, func(c context.Context) error { a.match.Stop(c); return nil })
	step("dispatcher", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.users.Close() })

	_ = a.logs.Close()
	a.log.Info("stopped")
	return nil
}
