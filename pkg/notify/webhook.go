package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ski11z/autoboom/pkg/model"
)

// Event names posted to the webhook.
const (
	EventCompleted       = "project.completed"
	EventError           = "project.error"
	EventPolicyViolation = "item.policy_violation"
)

// WebhookPayload is the JSON body posted for every notification.
type WebhookPayload struct {
	Event           string        `json:"event"`
	ProjectID       string        `json:"project_id"`
	ProjectName     string        `json:"project_name"`
	Status          string        `json:"status,omitempty"`
	Message         string        `json:"message,omitempty"`
	ItemIndex       *int          `json:"item_index,omitempty"`
	OriginalPrompt  string        `json:"original_prompt,omitempty"`
	RewrittenPrompt string        `json:"rewritten_prompt,omitempty"`
	Recovered       *bool         `json:"recovered,omitempty"`
	Totals          *model.Totals `json:"totals,omitempty"`
	At              time.Time     `json:"at"`
}

// Webhook posts notifications as JSON to a chat or automation endpoint.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *Webhook) NotifyCompleted(ctx context.Context, p *model.Project, prog *model.JobProgress) error {
	payload := WebhookPayload{
		Event:       EventCompleted,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Status:      string(p.Status),
		At:          time.Now().UTC(),
	}
	if prog != nil {
		payload.Totals = &model.Totals{Images: prog.TotalImages, Videos: prog.TotalVideos}
	}
	return w.post(ctx, payload)
}

func (w *Webhook) NotifyError(ctx context.Context, p *model.Project, prog *model.JobProgress, message string) error {
	return w.post(ctx, WebhookPayload{
		Event:       EventError,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Status:      string(p.Status),
		Message:     message,
		At:          time.Now().UTC(),
	})
}

func (w *Webhook) NotifyPolicyViolation(ctx context.Context, p *model.Project, itemIndex int, original, rewritten string, recovered bool) error {
	return w.post(ctx, WebhookPayload{
		Event:           EventPolicyViolation,
		ProjectID:       p.ID,
		ProjectName:     p.Name,
		ItemIndex:       &itemIndex,
		OriginalPrompt:  original,
		RewrittenPrompt: rewritten,
		Recovered:       &recovered,
		At:              time.Now().UTC(),
	})
}

func (w *Webhook) post(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		slog.Warn("webhook_send_failed", "event", payload.Event, "project_id", payload.ProjectID, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	slog.Info("webhook_sent", "event", payload.Event, "project_id", payload.ProjectID)
	return nil
}
