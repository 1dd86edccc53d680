package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jonwraymond/obskit/obsctx"
	"github.com/jonwraymond/obskit/observe"
)

// WebhookChannel posts envelopes as JSON to an HTTP endpoint. The envelope
// metadata is also sent as request headers, so receivers that only look at
// headers still see the correlation identifiers.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
	header http.Header
}

// WebhookOption configures a WebhookChannel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookChannel) { w.client = c }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) WebhookOption {
	return func(w *WebhookChannel) { w.header.Add(key, value) }
}

// NewWebhookChannel creates a channel named name posting to url.
func NewWebhookChannel(name, url string, opts ...WebhookOption) *WebhookChannel {
	w := &WebhookChannel{name: name, url: url, header: http.Header{}}
	for _, opt := range opts {
		opt(w)
	}
	if w.client == nil {
		w.client = observe.NewHTTPClient(nil)
	}
	return w
}

// Name returns the channel name.
func (w *WebhookChannel) Name() string { return w.name }

// Send posts env. 4xx responses are rejections; other non-2xx responses
// and transport errors are retryable.
func (w *WebhookChannel) Send(ctx context.Context, env obsctx.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return Reject(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Reject(err)
	}
	for k, vs := range w.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, v := range env.Metadata {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook %s: %w", w.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return Reject(fmt.Errorf("webhook %s: status %d", w.name, resp.StatusCode))
	default:
		return fmt.Errorf("notify: webhook %s: status %d", w.name, resp.StatusCode)
	}
}

var _ Channel = (*WebhookChannel)(nil)
