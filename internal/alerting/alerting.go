// Package alerting delivers Analyzer alerts to the channels listed in
// config.AlertingConfig.Channels. It is adapted from the teacher's
// webhooks.DirectDelivery/HybridDelivery pair: a plain HTTP POST with
// a context-scoped timeout, routed by channel name instead of by
// endpoint-URL shape (Discord/Slack detection). Slack delivery uses
// the chat.postMessage Web API with a bearer token rather than an
// incoming webhook URL, per spec.md's LOG_COLLECTOR_SLACK_TOKEN.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"devlogd/internal/config"
	"devlogd/internal/models"
)

type Dispatcher struct {
	cfg    config.AlertingConfig
	client *http.Client
}

func New(cfg config.AlertingConfig) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch sends alert to every configured channel. Delivery failures
// are logged, not returned: a slow or down webhook endpoint must never
// block the ingest path that produced the alert.
func (d *Dispatcher) Dispatch(alert models.Alert) {
	for _, channel := range d.cfg.Channels {
		switch channel {
		case "console":
			log.Printf("alert[%s] source=%s: %s", alert.Type, alert.Source, alert.Message)
		case "webhook":
			if d.cfg.WebhookURL == "" {
				continue
			}
			if err := d.post(d.cfg.WebhookURL, alert); err != nil {
				log.Printf("alerting: webhook delivery failed: %v", err)
			}
		case "slack":
			if d.cfg.SlackToken == "" {
				continue
			}
			if err := d.postSlack(alert); err != nil {
				log.Printf("alerting: slack delivery failed: %v", err)
			}
		default:
			log.Printf("alerting: unknown channel %q", channel)
		}
	}
}

func (d *Dispatcher) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alerting: marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerting: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerting: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alerting: endpoint responded %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) postSlack(alert models.Alert) error {
	channel := d.cfg.SlackChannel
	if channel == "" {
		channel = "#alerts"
	}
	payload := map[string]any{
		"channel": channel,
		"text":    fmt.Sprintf("[%s] %s (source=%s): %s", alert.Type, alert.At.Format(time.RFC3339), alert.Source, alert.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alerting: marshal slack payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://slack.com/api/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerting: build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.cfg.SlackToken)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerting: post slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alerting: slack endpoint responded %d", resp.StatusCode)
	}
	return nil
}
