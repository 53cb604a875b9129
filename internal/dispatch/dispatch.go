// Package dispatch sends notification messages to the messaging platform.
//
// The dispatcher is a queue plus a small worker pool. Every send is
// best-effort: one bounded call per task, failures are logged and swallowed,
// never retried within the cycle, and one recipient's failure never blocks
// another's. Delivery guarantees are deliberately absent; the cooldown ledger
// is updated before the send, so a lost message stays lost until the next
// cooldown window.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gardenbot/internal/transport"
	logx "gardenbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Task is one outbound message for one recipient. Consumed once, then
// discarded regardless of send outcome.
type Task struct {
	RecipientID string
	Text        string
}

type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 5
	}
	if out.SendTimeout <= 0 {
		out.SendTimeout = 5 * time.Second
	}
	return out
}

type Service struct {
	cfg     Config
	log     logx.Logger
	adapter transport.Adapter
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan Task
	accepting bool
	enqueueWG sync.WaitGroup
	workerWG  sync.WaitGroup
	stopDone  chan struct{} // non-nil while stopping
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		// Token bucket: burst = rate per sec, so short spikes don't block hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan Task, s.cfg.QueueSize)
	s.accepting = true

	q := s.queue
	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(ctx, q, idx)
		}()
	}
	s.log.Info("dispatcher started", logx.Int("workers", s.cfg.Workers), logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Enqueue hands one task to the worker pool without blocking.
func (s *Service) Enqueue(t Task) error {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	select {
	case q <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop blocks intake, waits out in-flight enqueues, and closes the queue so
// workers finish what is left. Draining only happens while the context given
// to Start is live; once that context is canceled, workers exit and tasks
// still queued are dropped, which is the intended best-effort shutdown.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait out in-flight enqueues, then close the queue so workers drain.
		s.enqueueWG.Wait()
		close(q)
		s.workerWG.Wait()
		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Task, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q:
			if !ok {
				return
			}
			s.send(ctx, t)
		}
	}
}

// send performs one outbound call. All failures end here: logged with the
// recipient id, never propagated, never retried.
func (s *Service) send(ctx context.Context, t Task) {
	chatID, err := strconv.ParseInt(t.RecipientID, 10, 64)
	if err != nil {
		s.log.Error("invalid recipient id", logx.String("recipient", t.RecipientID), logx.Err(err))
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err = s.adapter.SendText(callCtx, transport.Target{ChatID: chatID}, t.Text, &transport.SendOptions{DisablePreview: true})
	cancel()
	if err != nil {
		s.log.Warn("send failed", logx.String("recipient", t.RecipientID), logx.Err(err))
		return
	}
	s.log.Debug("sent", logx.String("recipient", t.RecipientID))
}
