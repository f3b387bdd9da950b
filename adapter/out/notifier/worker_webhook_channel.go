// Package notifier implements outbound notification channels.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
	"inbox_worker/pkg/httputil"

	"github.com/goccy/go-json"
)

// HTTPError is a non-2xx answer from an endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code to the router.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// WebhookChannel POSTs the event as JSON.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

var _ out.NotificationChannel = (*WebhookChannel)(nil)

func NewWebhookChannel(endpoint string, client *http.Client) (*WebhookChannel, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid webhook url %q", endpoint)
	}
	if client == nil {
		client = httputil.WebhookClient()
	}
	return &WebhookChannel{
		name:   "webhook:" + u.Host,
		url:    endpoint,
		client: client,
	}, nil
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Send(ctx context.Context, ev *domain.NotificationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "inbox-worker")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
