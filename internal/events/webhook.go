package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Pbsnet-Signature"

// Webhook POSTs every event to a single URL, signed with a shared secret.
// Delivery runs in the background with up to three attempts.
type Webhook struct {
	url        string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewWebhook creates a Webhook publisher.
func NewWebhook(url, secret string, logger *zap.Logger) *Webhook {
	return &Webhook{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, time.Second, 5 * time.Second},
		now:        time.Now,
		logger:     logger,
	}
}

// Publish implements Publisher. The request context is not used for delivery
// so that retries outlive the request.
func (w *Webhook) Publish(_ context.Context, eventType, userID string, payload map[string]string) {
	body, err := json.Marshal(Event{
		Type:      eventType,
		UserID:    userID,
		Timestamp: w.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		w.logger.Error("webhook: encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	go w.deliver(eventType, body)
}

func (w *Webhook) deliver(eventType string, body []byte) {
	sig := Sign(body, w.secret)
	for attempt, delay := range w.delays {
		time.Sleep(delay)
		err := w.post(body, sig)
		if err == nil {
			return
		}
		w.logger.Warn("webhook: delivery failed",
			zap.String("type", eventType),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
}

func (w *Webhook) post(body []byte, sig string) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign returns "sha256=" followed by the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Multi fans each event out to every publisher.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, eventType, userID string, payload map[string]string) {
	for _, p := range m {
		p.Publish(ctx, eventType, userID, payload)
	}
}
