package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avolkov/signdesk/internal/logging"
	"github.com/google/uuid"
)

const (
	signatureHeader = "X-Signature"
	eventIDHeader   = "X-Event-Id"
	eventTypeHeader = "X-Event-Type"

	deliveryTimeout = 5 * time.Second
)

// WebhookNotifier POSTs events as JSON to a single consumer endpoint,
// signing the raw body with HMAC-SHA256 so the consumer can verify origin.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	logger logging.Logger
}

func NewWebhookNotifier(url, secret string, logger logging.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger.With("module", "notify"),
	}
}

// Publish delivers the event in the background. The signing path never
// waits on the consumer.
func (n *WebhookNotifier) Publish(ctx context.Context, eventType string, payload map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		defer cancel()

		if err := n.send(ctx, eventType, payload); err != nil {
			n.logger.Warn(ctx, "webhook delivery failed", "event_type", eventType, "error", err.Error())
		}
	}()
}

func (n *WebhookNotifier) send(ctx context.Context, eventType string, payload map[string]any) error {

	body, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"payload":    payload,
		"emitted_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventIDHeader, uuid.NewString())
	req.Header.Set(eventTypeHeader, eventType)
	req.Header.Set(signatureHeader, sign(n.secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("consumer returned status %d", resp.StatusCode)
	}

	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
