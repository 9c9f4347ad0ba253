// Package notify posts junction summaries to an outbound webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Payload is the webhook body.
type Payload struct {
	Text  string `json:"text"`
	RunID string `json:"run_id"`
}

// Webhook delivers payloads with exponential retry. Server errors and
// transport failures are retried; 4xx responses are not.
type Webhook struct {
	url      string
	client   *http.Client
	maxTries uint
	logger   *zap.Logger

	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

func NewWebhook(url string, timeout time.Duration, maxTries uint, logger *zap.Logger) *Webhook {
	return &Webhook{
		url:             url,
		client:          &http.Client{Timeout: timeout},
		maxTries:        maxTries,
		logger:          logger.Named("notify"),
		InitialInterval: 500 * time.Millisecond,
	}
}

// Send posts the payload and returns the number of attempts made.
func (w *Webhook) Send(ctx context.Context, p Payload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode webhook payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.InitialInterval

	attempts := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, w.post(ctx, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(w.maxTries))
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			zap.String("run_id", p.RunID), zap.Int("attempts", attempts), zap.Error(err))
		return attempts, err
	}
	w.logger.Debug("webhook delivered", zap.String("run_id", p.RunID), zap.Int("attempts", attempts))
	return attempts, nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("webhook rejected payload: %s", resp.Status))
	default:
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
}
