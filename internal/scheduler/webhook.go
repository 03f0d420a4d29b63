package scheduler

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// notifyWebhook posts a best-effort JSON event to the configured operator
// webhook. Failures are logged, never returned: a down webhook endpoint must
// not affect the kill switch or the trading loop.
func (e *Engine) notifyWebhook(event, reason string) {
	if e.cfg.Operator.WebhookURL == "" {
		return
	}

	go func() {
		_, err := e.webhookClient.R().
			SetBody(map[string]any{
				"event":  event,
				"reason": reason,
				"mode":   e.cfg.Mode,
				"at":     time.Now().UTC().Format(time.RFC3339),
			}).
			Post(e.cfg.Operator.WebhookURL)
		if err != nil {
			e.logger.Warn("operator webhook delivery failed", "event", event, "error", err)
		}
	}()
}

func newWebhookClient() *resty.Client {
	return resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(1)
}
