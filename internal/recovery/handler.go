package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/types"
)

// Handler executes one kind of recovery action
type Handler interface {
	Execute(ctx context.Context, action types.RecoveryAction) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, action types.RecoveryAction) error

func (f HandlerFunc) Execute(ctx context.Context, action types.RecoveryAction) error {
	return f(ctx, action)
}

// PartialError reports that an action helped but did not finish the job.
// The process ends in PartialRecovery with the given progress.
type PartialError struct {
	Progress float64
	Reason   string
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial recovery (%.0f%%): %s", e.Progress*100, e.Reason)
}

// Partial returns a PartialError
func Partial(progress float64, reason string) error {
	return &PartialError{Progress: progress, Reason: reason}
}

// LogHandler only records that the action was requested. It backs the
// built-in action types when nothing else is registered for them.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a handler that logs actions
func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Execute(ctx context.Context, action types.RecoveryAction) error {
	h.logger.Info("recovery action requested",
		zap.String("action_type", action.Type),
		zap.String("dimension", action.Dimension),
		zap.Int("priority", action.Priority),
		zap.String("description", action.Description))
	return nil
}

// WebhookHandler delivers an action to an external remediation endpoint
// as a JSON POST. Any non-2xx response fails the action; 206 Partial
// Content reports partial recovery.
type WebhookHandler struct {
	URL     string
	Headers map[string]string
	client  *http.Client
}

// NewWebhookHandler creates a webhook handler. timeout bounds each request
// in addition to the dispatcher's own deadline.
func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookHandler{
		URL:     url,
		Headers: map[string]string{"Content-Type": "application/json"},
		client:  &http.Client{Timeout: timeout},
	}
}

// webhookPayload is the body posted for an action
type webhookPayload struct {
	Action    types.RecoveryAction `json:"action"`
	Timestamp int64                `json:"timestamp"`
	Source    string               `json:"source"`
}

func (h *WebhookHandler) Execute(ctx context.Context, action types.RecoveryAction) error {
	if h.URL == "" {
		return fmt.Errorf("webhook URL is empty")
	}

	data, err := json.Marshal(webhookPayload{
		Action:    action,
		Timestamp: time.Now().Unix(),
		Source:    "vigil",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		return Partial(0.5, "remediation endpoint reported partial recovery")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
