package model

import "time"

// Totals are the expected item counts of the active job.
type Totals struct {
	Images int `json:"images"`
	Videos int `json:"videos"`
}

// Status is the polled and pushed view of the active job.
type Status struct {
	Running      bool         `json:"running"`
	Paused       bool         `json:"paused"`
	ProjectID    string       `json:"project_id,omitempty"`
	Phase        Phase        `json:"phase,omitempty"`
	State        State        `json:"state"`
	CurrentIndex int          `json:"current_index"`
	Totals       Totals       `json:"totals"`
	Images       []ItemResult `json:"images,omitempty"`
	Videos       []ItemResult `json:"videos,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	At           time.Time    `json:"at"`
}

// StatusOf builds a Status from a progress record.
func StatusOf(p *JobProgress, running, paused bool) Status {
	if p == nil {
		return Status{State: StateIdle, At: time.Now().UTC()}
	}
	return Status{
		Running:      running,
		Paused:       paused,
		ProjectID:    p.ProjectID,
		Phase:        p.Phase,
		State:        p.State,
		CurrentIndex: p.CurrentIndex,
		Totals:       Totals{Images: p.TotalImages, Videos: p.TotalVideos},
		Images:       append([]ItemResult(nil), p.Images...),
		Videos:       append([]ItemResult(nil), p.Videos...),
		LastError:    p.LastError,
		At:           time.Now().UTC(),
	}
}

// Outcome is the terminal result of a run.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeCompletedWithErrors Outcome = "completed_with_errors"
	OutcomeError               Outcome = "error"
)

// RunRecord is the history entry written for every terminal outcome.
type RunRecord struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Outcome      Outcome   `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	ImagesReady  int       `json:"images_ready"`
	ImagesFailed int       `json:"images_failed"`
	VideosReady  int       `json:"videos_ready"`
	VideosFailed int       `json:"videos_failed"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
