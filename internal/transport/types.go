// Package transport defines the narrow contract gardenbot needs from a
// messaging platform: receive text messages, send text messages. Everything
// platform-specific stays inside the adapter implementations.
package transport

import "context"

// Message is one inbound text message from a recipient.
type Message struct {
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Target addresses one outbound message.
type Target struct {
	ChatID int64
}

// SendOptions carries optional platform hints for one send.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is a messaging platform connection.
//
// Start begins receiving and forwards inbound messages on out until ctx is
// canceled or Stop is called. SendText performs one outbound call; the caller
// owns the timeout via ctx.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to Target, text string, opt *SendOptions) error
}
