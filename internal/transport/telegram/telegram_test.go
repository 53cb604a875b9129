package telegram

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"gardenbot/internal/transport"
	logx "gardenbot/pkg/logx"
)

// stuckSender blocks every Send until released, standing in for a hung API call.
type stuckSender struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *stuckSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	s.calls.Add(1)
	<-s.release
	return nil, errors.New("released")
}

type quickSender struct {
	err error
}

func (s *quickSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	return nil, s.err
}

func TestSendTextHonorsDeadline(t *testing.T) {
	t.Parallel()
	st := &stuckSender{release: make(chan struct{})}
	defer close(st.release)
	a := &Adapter{log: logx.Nop(), send: st}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := a.SendText(ctx, transport.Target{ChatID: 1}, "hi", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendText = %v, want deadline exceeded", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("SendText blocked %v past its deadline", took)
	}
	if st.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", st.calls.Load())
	}
}

func TestSendTextSkipsCanceledContext(t *testing.T) {
	t.Parallel()
	st := &stuckSender{release: make(chan struct{})}
	defer close(st.release)
	a := &Adapter{log: logx.Nop(), send: st}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.SendText(ctx, transport.Target{ChatID: 1}, "hi", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("SendText = %v, want context.Canceled", err)
	}
	if st.calls.Load() != 0 {
		t.Fatal("canceled context must not reach the platform")
	}
}

func TestSendTextPassesThroughResult(t *testing.T) {
	t.Parallel()
	want := errors.New("bad request")
	a := &Adapter{log: logx.Nop(), send: &quickSender{err: want}}
	if err := a.SendText(context.Background(), transport.Target{ChatID: 1}, "hi", nil); !errors.Is(err, want) {
		t.Fatalf("SendText = %v, want %v", err, want)
	}

	a = &Adapter{log: logx.Nop(), send: &quickSender{}}
	if err := a.SendText(context.Background(), transport.Target{ChatID: 1}, "hi", nil); err != nil {
		t.Fatalf("SendText = %v, want nil", err)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "   "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
