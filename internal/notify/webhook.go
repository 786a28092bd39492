package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultWebhookTimeout bounds one webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

var errUnexpectedStatusCode = errors.New("unexpected http status code")

// UnexpectedStatusCodeError wraps a non-2xx webhook response.
func UnexpectedStatusCodeError(statusCode int) error {
	return fmt.Errorf("%w, %d", errUnexpectedStatusCode, statusCode)
}

// IsUnexpectedStatusCode reports whether err came from a non-2xx response.
func IsUnexpectedStatusCode(err error) bool {
	return errors.Is(err, errUnexpectedStatusCode)
}

// Webhook posts messages as JSON to an HTTP endpoint (chat incoming
// webhooks, alerting relays).
type Webhook struct {
	HTTPClient *http.Client
	URL        *url.URL
}

// webhookPayload carries a plain "text" field that chat webhooks render
// directly, next to the structured message.
type webhookPayload struct {
	Text string `json:"text"`
	Message
}

// NewWebhook creates a webhook notifier. A nil client gets DefaultWebhookTimeout.
func NewWebhook(httpClient *http.Client, rawURL string) (*Webhook, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultWebhookTimeout}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook url %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q: missing host", rawURL)
	}

	return &Webhook{HTTPClient: httpClient, URL: u}, nil
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{Text: msg.Text(), Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UnexpectedStatusCodeError(resp.StatusCode)
	}
	return nil
}
