// Package supervisor runs the bot's background goroutines under one shared
// context, with panic containment and optional restart-on-failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "gardenbot/pkg/logx"
)

// Supervisor tracks a group of named goroutines. The first non-context error
// any of them returns (or panics with) is retained and reported by Err; with
// WithCancelOnError it also cancels the whole group.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // error
	doneOnce    sync.Once
	done        chan struct{}
	wg          sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first goroutine failure cancel every other
// goroutine in the group.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel stops the group context without waiting for goroutines to return.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first retained failure, if any.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

// Go starts fn as a tracked goroutine. A panic or non-context error is
// retained as the group failure; returning context.Canceled counts as a
// clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		defer func() {
			if r := recover(); r != nil {
				if !s.log.IsZero() {
					s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
				s.fail(fmt.Errorf("panic in %s: %v", name, r))
			}
		}()

		if !s.log.IsZero() {
			s.log.Debug("goroutine started", logx.String("name", name))
		}
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		if !s.log.IsZero() {
			s.log.Debug("goroutine stopped", logx.String("name", name))
		}
	}()
}

// Go0 is Go for functions with no error to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	stopOnCleanExit bool
}

// WithRestartBackoff bounds the wait between restarts. The wait doubles on
// each consecutive failure from min up to max.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.minBackoff = min
		}
		if max > 0 {
			p.maxBackoff = max
		}
	}
}

// WithStopOnCleanExit controls whether a nil return from fn ends the restart
// loop (the default) or is treated as a failure and restarted.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

// GoRestart keeps fn running until ctx is canceled: every error or panic is
// followed by a backoff-delayed restart. Meant for loops that must survive
// transient failures (pollers, feed consumers, watchers) without taking the
// process down.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	policy := restartPolicy{
		minBackoff:      250 * time.Millisecond,
		maxBackoff:      30 * time.Second,
		stopOnCleanExit: true,
	}
	for _, o := range opts {
		o(&policy)
	}
	if policy.maxBackoff < policy.minBackoff {
		policy.maxBackoff = policy.minBackoff
	}

	s.Go0(name+".restart", func(ctx context.Context) {
		backoff := policy.minBackoff
		for {
			if ctx.Err() != nil {
				return
			}

			startedAt := time.Now()
			err, panicked, stack := runOnce(ctx, fn)

			if panicked != nil {
				if !s.log.IsZero() {
					s.log.Error("goroutine panicked (restart)", logx.String("name", name), logx.Any("panic", panicked), logx.String("stack", stack))
				}
				err = fmt.Errorf("panic: %v", panicked)
			}

			// Shutdown is a clean stop, never a restart.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if policy.stopOnCleanExit {
					return
				}
				err = errors.New("exited")
			}

			// A run that stayed healthy for a while earns a fresh backoff, so
			// one rare failure after hours of uptime restarts quickly.
			if time.Since(startedAt) >= 30*time.Second {
				backoff = policy.minBackoff
			}

			wait := jitter(backoff)
			if !s.log.IsZero() {
				s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Any("err", err))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > policy.maxBackoff {
				backoff = policy.maxBackoff
			}
		}
	})
}

// runOnce invokes fn with panic capture so the restart loop can log the stack
// and keep going.
func runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error, panicked any, stack string) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
			stack = string(debug.Stack())
		}
	}()
	err = fn(ctx)
	return
}

// jitter spreads a backoff wait by up to 20% so restarting goroutines don't
// thunder in lockstep.
func jitter(d time.Duration) time.Duration {
	span := int64(d) / 5
	if span <= 0 {
		return d
	}
	return d + time.Duration(time.Now().UnixNano()%(span+1))
}

// Wait blocks until every goroutine has returned or ctx expires, then
// reports the group failure (nil on a clean stop).
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}
