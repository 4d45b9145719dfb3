package model

import (
	"time"

	"github.com/ski11z/autoboom/pkg/fsm"
)

// Phase names a stage of a project's execution.
type Phase string

const (
	PhaseNone        Phase = ""
	PhaseImage       Phase = "image"
	PhaseVideo       Phase = "video"
	PhaseTextToVideo Phase = "text_to_video"
	PhaseCreateImage Phase = "create_image"
	PhaseDownload    Phase = "download"
)

// State mirrors the project lifecycle machine.
type State string

const (
	StateIdle             State = "idle"
	StateConfiguring      State = "configuring"
	StateImagePhase       State = "image_phase"
	StateVideoPhase       State = "video_phase"
	StateTextToVideoPhase State = "text_to_video_phase"
	StateCreateImagePhase State = "create_image_phase"
	StateDownloadPhase    State = "download_phase"
	StatePaused           State = "paused"
	StateCompleted        State = "completed"
	StateError            State = "error"
)

// ItemStatus is the per-item generation status.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemGenerating ItemStatus = "generating"
	ItemReady      ItemStatus = "ready"
	ItemSubmitted  ItemStatus = "submitted"
	ItemDownloaded ItemStatus = "downloaded"
	ItemError      ItemStatus = "error"
)

func (s ItemStatus) rank() int {
	switch s {
	case ItemPending, "":
		return 0
	case ItemGenerating:
		return 1
	case ItemReady, ItemSubmitted, ItemError:
		return 2
	case ItemDownloaded:
		return 3
	}
	return -1
}

// Done reports whether the item has been produced or handed off remotely.
func (s ItemStatus) Done() bool {
	return s == ItemReady || s == ItemSubmitted || s == ItemDownloaded
}

// ItemResult is the record of one prompt within a phase.
type ItemResult struct {
	Index     int        `json:"index"`
	Prompt    string     `json:"prompt"`
	Status    ItemStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	Error     string     `json:"error,omitempty"`
	MediaURL  string     `json:"media_url,omitempty"`
	RemoteID  string     `json:"remote_id,omitempty"`
	LocalPath string     `json:"local_path,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Advance moves the item to next. Moves that would regress the status are
// refused and reported as false. Only done items may become downloaded.
func (r *ItemResult) Advance(next ItemStatus) bool {
	cur := r.Status.rank()
	nr := next.rank()
	if nr < 0 || nr < cur {
		return false
	}
	if r.Status == next {
		return true
	}
	if cur == 2 && nr == 2 {
		// ready, submitted and error are terminal siblings.
		return false
	}
	if next == ItemDownloaded && !r.Status.Done() {
		return false
	}
	r.Status = next
	r.UpdatedAt = time.Now().UTC()
	return true
}

// Reset puts the item back to pending. Used when a phase restarts.
func (r *ItemResult) Reset() {
	r.Status = ItemPending
	r.Error = ""
	r.UpdatedAt = time.Now().UTC()
}

// JobProgress is the mutable execution record of a project.
type JobProgress struct {
	ProjectID    string        `json:"project_id"`
	Phase        Phase         `json:"phase"`
	State        State         `json:"state"`
	CurrentIndex int           `json:"current_index"`
	TotalImages  int           `json:"total_images"`
	TotalVideos  int           `json:"total_videos"`
	Images       []ItemResult  `json:"images"`
	Videos       []ItemResult  `json:"videos"`
	RetryCount   int           `json:"retry_count"`
	LastError    string        `json:"last_error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	PausedPhase  State         `json:"paused_phase,omitempty"`
	Lifecycle    *fsm.Snapshot `json:"lifecycle,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewJobProgress returns a fresh idle record.
func NewJobProgress(projectID string) *JobProgress {
	return &JobProgress{
		ProjectID: projectID,
		State:     StateIdle,
		StartedAt: time.Now().UTC(),
	}
}

// EnsureItems resizes items to match prompts, keeping existing results whose
// prompt is unchanged and resetting the others.
func EnsureItems(items []ItemResult, prompts []string) []ItemResult {
	out := make([]ItemResult, len(prompts))
	for i, p := range prompts {
		if i < len(items) && items[i].Prompt == p {
			out[i] = items[i]
			out[i].Index = i
			continue
		}
		out[i] = ItemResult{Index: i, Prompt: p, Status: ItemPending}
	}
	return out
}

// HasErrors reports whether any item in either list ended in error.
func (p *JobProgress) HasErrors() bool {
	for _, r := range p.Images {
		if r.Status == ItemError {
			return true
		}
	}
	for _, r := range p.Videos {
		if r.Status == ItemError {
			return true
		}
	}
	return false
}

// Counts returns done and failed counts for a result list.
func Counts(items []ItemResult) (done, failed int) {
	for _, r := range items {
		switch {
		case r.Status.Done():
			done++
		case r.Status == ItemError:
			failed++
		}
	}
	return done, failed
}

// Clone returns a deep copy.
func (p *JobProgress) Clone() *JobProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.Images = append([]ItemResult(nil), p.Images...)
	c.Videos = append([]ItemResult(nil), p.Videos...)
	if p.Lifecycle != nil {
		snap := *p.Lifecycle
		c.Lifecycle = &snap
	}
	return &c
}
