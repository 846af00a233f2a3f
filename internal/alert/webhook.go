package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout    = 5 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
)

var httpClient = &http.Client{Timeout: requestTimeout}

// Send posts one alert event to a webhook destination. Transport
// failures and 5xx responses are retried with linear backoff until the
// destination's retry budget is spent; 4xx responses are terminal.
// Cancelling ctx stops the retry loop between attempts.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("alert: format payload: %w", err)
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	backoff := time.Duration(cfg.RetryBackoffSeconds) * time.Second
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("alert: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fmt.Errorf("alert: webhook rejected: HTTP %d", resp.StatusCode)
		default:
			lastErr = fmt.Errorf("alert: webhook server error: HTTP %d", resp.StatusCode)
		}
	}

	return fmt.Errorf("alert: webhook failed after %d attempts: %w", retries, lastErr)
}
