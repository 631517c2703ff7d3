package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
	"github.com/lestrrat-go/backoff/v2"
	"github.com/mbolis/voiceform/model"
)

const SecretHeader = "X-Voiceform-Secret-256"

// Webhook posts the completion as JSON to every integration of the form,
// plus any URLs configured for all forms.
type Webhook struct {
	client *http.Client
	policy backoff.Policy
	global []model.Webhook
}

type WebhookOption func(*Webhook)

func WithClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

func WithBackoff(p backoff.Policy) WebhookOption {
	return func(w *Webhook) { w.policy = p }
}

func WithGlobal(hooks ...model.Webhook) WebhookOption {
	return func(w *Webhook) { w.global = append(w.global, hooks...) }
}

func NewWebhook(opts ...WebhookOption) *Webhook {
	w := &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		policy: backoff.Exponential(
			backoff.WithMinInterval(500*time.Millisecond),
			backoff.WithMaxInterval(30*time.Second),
			backoff.WithJitterFactor(0.1),
			backoff.WithMaxRetries(4),
		),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (w *Webhook) NotifyCompletion(ctx context.Context, c Completion) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var result error
	for _, hook := range append(append([]model.Webhook(nil), w.global...), c.Integrations...) {
		if err := w.deliver(ctx, hook, payload); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func (w *Webhook) deliver(ctx context.Context, hook model.Webhook, payload []byte) error {
	if u, err := url.Parse(hook.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("webhook %q: invalid url", hook.URL)
	}

	var err error
	b := w.policy.Start(ctx)
	for backoff.Continue(b) {
		err = w.post(ctx, hook, payload)
		if err == nil {
			return nil
		}
		if _, ok := err.(*permanentError); ok {
			break
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return fmt.Errorf("webhook %s: %w", hook.URL, err)
}

func (w *Webhook) post(ctx context.Context, hook model.Webhook, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if hook.Secret != "" {
		req.Header.Set(SecretHeader, SignSecret(hook.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	default:
		return &permanentError{fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}
}

// SignSecret is the header value receivers compare against their own copy of the secret.
func SignSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(h[:])
}
