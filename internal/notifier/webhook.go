package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	appconfig "github.com/svirikk/agree-OIV2/config"
	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/logger"
)

// Sender delivers one finalized alert record to a sink. Implementations must
// be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, record models.AlertRecord) error
}

// WebhookSender posts alert records as JSON to a configured endpoint.
// Delivery is at-most-once: a failed POST is reported to the caller and never
// retried.
type WebhookSender struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewWebhookSender(cfg appconfig.NotifierConfig) *WebhookSender {
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	return &WebhookSender{
		url: cfg.WebhookURL,
		client: &http.Client{
			Timeout: cfg.Timeout(),
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     logger.GetLogger(),
	}
}

// Send posts the record. The rate limiter smooths bursts from a single flush
// so the receiving endpoint is not flooded at minute boundaries.
func (w *WebhookSender) Send(ctx context.Context, record models.AlertRecord) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal alert record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.log.WithComponent("webhook_notifier").WithFields(logger.Fields{
		"alert_id":   record.AlertID,
		"instrument": record.Instrument,
		"direction":  string(record.FinalDirection),
	}).Info("alert delivered")
	return nil
}
