package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/obskit/obsctx"
)

// Sentinel errors.
var (
	ErrNilChannel = errors.New("notify: channel is nil")

	// ErrRejected marks a delivery the channel refused for good. It is not
	// retried.
	ErrRejected = errors.New("notify: message rejected")
)

// Channel delivers envelopes to one external provider.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Send must honor cancellation/deadlines.
// - Errors: wrap ErrRejected for failures a retry cannot fix.
type Channel interface {
	Name() string
	Send(ctx context.Context, env obsctx.Envelope) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc struct {
	name string
	send func(ctx context.Context, env obsctx.Envelope) error
}

// NewChannelFunc creates a ChannelFunc.
func NewChannelFunc(name string, send func(ctx context.Context, env obsctx.Envelope) error) *ChannelFunc {
	return &ChannelFunc{name: name, send: send}
}

// Name returns the channel name.
func (c *ChannelFunc) Name() string { return c.name }

// Send calls the wrapped function.
func (c *ChannelFunc) Send(ctx context.Context, env obsctx.Envelope) error {
	return c.send(ctx, env)
}

// Reject wraps err so dispatch gives up without retrying.
func Reject(err error) error {
	if err == nil {
		return ErrRejected
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

var _ Channel = (*ChannelFunc)(nil)
