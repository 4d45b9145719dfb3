package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/ski11z/autoboom/pkg/model"
)

// Action names understood by the execution agent.
const (
	ActionCreateWorkspace   = "workspace.create"
	ActionCurrentURL        = "workspace.url"
	ActionConfigureSettings = "settings.configure"
	ActionAttachPrevious    = "reference.attach_previous"
	ActionUploadReference   = "reference.upload"
	ActionAttachFrames      = "frames.attach"
	ActionEnterPrompt       = "prompt.enter"
	ActionReusePrompt       = "prompt.reuse"
	ActionRestorePrompt     = "prompt.restore"
	ActionRewritePrompt     = "prompt.rewrite"
	ActionSubmit            = "generation.submit"
	ActionAwait             = "generation.await"
	ActionRetryGeneration   = "generation.retry"
	ActionCountItems        = "items.count"
	ActionPendingVideos     = "videos.pending"
	ActionListCompleted     = "items.completed"
	ActionDownload          = "item.download"
)

// Target is the remote generation target for the settings panel.
type Target string

const (
	TargetImage Target = "image"
	TargetVideo Target = "video"
)

// Kind selects which remote gallery a query applies to.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// awaitMargin is added to the transport deadline of an await call so the
// remote timeout fires first.
const awaitMargin = 30 * time.Second

// Output is the result of a finished generation.
type Output struct {
	URL      string `json:"url"`
	RemoteID string `json:"remote_id"`
}

// RemoteItem is a produced item listed by the remote gallery.
type RemoteItem struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	URL   string `json:"url"`
	Name  string `json:"name"`
}

// Download describes a file fetched by the agent into its download area.
type Download struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Remote is the typed action surface used by the phases.
type Remote struct {
	gw Gateway
}

// NewRemote wraps a Gateway.
func NewRemote(gw Gateway) *Remote {
	return &Remote{gw: gw}
}

func (r *Remote) call(ctx context.Context, action string, params Params, out any) error {
	res, err := r.gw.Dispatch(ctx, action, params)
	if err != nil {
		return err
	}
	if out != nil {
		return res.Decode(out)
	}
	return nil
}

// CreateWorkspace opens a brand-new remote workspace and returns its URL.
func (r *Remote) CreateWorkspace(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := r.call(ctx, ActionCreateWorkspace, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// CurrentURL returns the URL of the workspace in use.
func (r *Remote) CurrentURL(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := r.call(ctx, ActionCurrentURL, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// ConfigureSettings applies output settings for target and fails unless the
// agent confirms they took effect.
func (r *Remote) ConfigureSettings(ctx context.Context, target Target, s model.Settings) error {
	modelName := s.ImageModel
	if target == TargetVideo {
		modelName = s.VideoModel
	}
	var out struct {
		Applied  bool   `json:"applied"`
		Mismatch string `json:"mismatch"`
	}
	err := r.call(ctx, ActionConfigureSettings, Params{
		"target":       string(target),
		"aspect_ratio": s.AspectRatio,
		"output_count": s.OutputCount,
		"model":        modelName,
	}, &out)
	if err != nil {
		return err
	}
	if !out.Applied {
		return fmt.Errorf("settings not applied: %s", out.Mismatch)
	}
	return nil
}

// AttachPreviousImage attaches the gallery image at index as a reference.
func (r *Remote) AttachPreviousImage(ctx context.Context, index int) error {
	return r.call(ctx, ActionAttachPrevious, Params{"index": index}, nil)
}

// UploadReference attaches an image by URL.
func (r *Remote) UploadReference(ctx context.Context, url string) error {
	return r.call(ctx, ActionUploadReference, Params{"url": url}, nil)
}

// AttachFrames sets the start frame and, when end >= 0, the end frame.
func (r *Remote) AttachFrames(ctx context.Context, start, end int) error {
	return r.call(ctx, ActionAttachFrames, Params{"start": start, "end": end}, nil)
}

// EnterPrompt types the prompt into the composer.
func (r *Remote) EnterPrompt(ctx context.Context, prompt string) error {
	return r.call(ctx, ActionEnterPrompt, Params{"prompt": prompt}, nil)
}

// ReusePrompt restores the composer state of a previous attempt.
func (r *Remote) ReusePrompt(ctx context.Context, index int) error {
	return r.call(ctx, ActionReusePrompt, Params{"index": index}, nil)
}

// RestorePrompt puts the original prompt back after a rejection cleared it.
func (r *Remote) RestorePrompt(ctx context.Context, prompt string) error {
	return r.call(ctx, ActionRestorePrompt, Params{"prompt": prompt}, nil)
}

// RewritePrompt asks the remote assistant to rewrite a rejected prompt.
func (r *Remote) RewritePrompt(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := r.call(ctx, ActionRewritePrompt, Params{"prompt": prompt}, &out); err != nil {
		return "", err
	}
	if out.Prompt == "" {
		return "", fmt.Errorf("rewrite returned an empty prompt")
	}
	return out.Prompt, nil
}

// Submit starts generation.
func (r *Remote) Submit(ctx context.Context) error {
	return r.call(ctx, ActionSubmit, nil, nil)
}

// RetryGeneration presses the remote retry control.
func (r *Remote) RetryGeneration(ctx context.Context) error {
	return r.call(ctx, ActionRetryGeneration, nil, nil)
}

// AwaitResult waits for the current generation to finish.
func (r *Remote) AwaitResult(ctx context.Context, timeout time.Duration) (Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout+awaitMargin)
	defer cancel()

	var out Output
	err := r.call(callCtx, ActionAwait, Params{"timeout_ms": timeout.Milliseconds()}, &out)
	return out, err
}

// CountItems returns how many items of kind the remote gallery holds.
func (r *Remote) CountItems(ctx context.Context, kind Kind) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := r.call(ctx, ActionCountItems, Params{"kind": string(kind)}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// PendingCount returns how many videos are still rendering.
func (r *Remote) PendingCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := r.call(ctx, ActionPendingVideos, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// ListCompleted returns the finished items of kind.
func (r *Remote) ListCompleted(ctx context.Context, kind Kind) ([]RemoteItem, error) {
	var out struct {
		Items []RemoteItem `json:"items"`
	}
	if err := r.call(ctx, ActionListCompleted, Params{"kind": string(kind)}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Download fetches one item into the agent's download area.
func (r *Remote) Download(ctx context.Context, item RemoteItem) (Download, error) {
	var out Download
	err := r.call(ctx, ActionDownload, Params{"id": item.ID, "index": item.Index, "url": item.URL}, &out)
	return out, err
}
