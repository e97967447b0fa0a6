package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/attuneai/chime/errors"
)

// WebhookNotifier posts messages as JSON to a webhook URL
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *zap.SugaredLogger
}

type webhookPayload struct {
	Target  string `json:"target,omitempty"`
	Message string `json:"message"`
	SentAt  string `json:"sent_at"`
}

// NewWebhook creates a webhook notifier posting to url
func NewWebhook(url string, log *zap.SugaredLogger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Send implements Notifier
func (w *WebhookNotifier) Send(ctx context.Context, target, message string) error {
	payload := webhookPayload{
		Target:  target,
		Message: message,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build notification request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to deliver notification")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("notification webhook returned status %d", resp.StatusCode)
	}

	w.log.Debugw("Notification delivered", "target", target, "status", resp.StatusCode)
	return nil
}
