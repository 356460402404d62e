package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"mkv-transcoder/internal/config"
	"mkv-transcoder/internal/version"
	"mkv-transcoder/pkg/models"
)

// WebhookClient posts batch events to a notification endpoint.
type WebhookClient struct {
	url        string
	runHeader  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookClient creates a robust HTTP client with retries. Returns nil when
// no webhook is configured.
func NewWebhookClient(cfg config.NotifyConfig, logger *slog.Logger) *WebhookClient {
	if cfg.WebhookURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil // Silence default debug logger

	return &WebhookClient{
		url:        cfg.WebhookURL,
		runHeader:  "X-Transcoder-Run",
		httpClient: retryClient.StandardClient(),
		logger:     logger,
	}
}

// doRequest posts payload as JSON and checks the response status.
func (c *WebhookClient) doRequest(ctx context.Context, runID string, payload interface{}) error {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(c.runHeader, runID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// StatusError reports a webhook that answered with an error status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned error status: %d", e.StatusCode)
}

// ReportItem posts one item event.
func (c *WebhookClient) ReportItem(ctx context.Context, ev models.ItemEvent) error {
	if err := c.doRequest(ctx, ev.RunID, ev); err != nil {
		return fmt.Errorf("item notification failed: %w", err)
	}
	return nil
}

// ReportSummary posts the batch summary.
func (c *WebhookClient) ReportSummary(ctx context.Context, s models.BatchSummary) error {
	if s.Event == "" {
		s.Event = "summary"
	}
	if err := c.doRequest(ctx, s.RunID, s); err != nil {
		return fmt.Errorf("summary notification failed: %w", err)
	}
	c.logger.Info("batch summary delivered", slog.String("run_id", s.RunID))
	return nil
}
