package phase

import (
	"context"

	"github.com/ski11z/autoboom/pkg/control"
	"github.com/ski11z/autoboom/pkg/gateway"
	"github.com/ski11z/autoboom/pkg/model"
)

// list selects which item list of the progress record a phase works on.
type list int

const (
	images list = iota
	videos
)

func (l list) String() string {
	if l == videos {
		return "video"
	}
	return "image"
}

func (l list) of(p *model.JobProgress) []model.ItemResult {
	if l == videos {
		return p.Videos
	}
	return p.Images
}

// outcome is what a successful attempt produced.
type outcome struct {
	status model.ItemStatus
	out    gateway.Output
}

// attemptFunc runs the action sequence of one attempt. attempt starts at 1.
type attemptFunc func(ctx context.Context, attempt int) (outcome, error)

// StartIndex returns the index of the first item that is not yet done.
func StartIndex(items []model.ItemResult) int {
	for i, r := range items {
		if !r.Status.Done() {
			return i
		}
	}
	return len(items)
}

// prepare computes the start index and resets unfinished items from there,
// which is the only way an item status moves backwards.
func (j *Job) prepare(l list) int {
	var start int
	j.Update(func(p *model.JobProgress) {
		items := l.of(p)
		start = StartIndex(items)
		for i := start; i < len(items); i++ {
			if !items[i].Status.Done() && items[i].Status != model.ItemPending {
				items[i].Reset()
			}
		}
		p.CurrentIndex = start
	})
	if start > 0 {
		j.log.Info("phase_resume", "list", l.String(), "start_index", start)
	}
	return start
}

func (j *Job) item(l list, i int) model.ItemResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return l.of(j.progress)[i]
}

func (j *Job) items(l list) []model.ItemResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]model.ItemResult(nil), l.of(j.progress)...)
}

// runItem drives one item through up to maxRetries+1 attempts with backoff
// in between. Exhaustion marks the item error and returns nil so the caller
// moves on. Only an abort is returned.
func (j *Job) runItem(l list, i int, attempt attemptFunc) error {
	maxAttempts := j.Project.Settings.MaxRetries + 1
	schedule := j.opts.Backoff.NewSchedule()

	j.Update(func(p *model.JobProgress) {
		l.of(p)[i].Advance(model.ItemGenerating)
		p.CurrentIndex = i
	})

	for a := 1; a <= maxAttempts; a++ {
		if a > 1 {
			delay := schedule.Next()
			j.log.Info("phase_item_backoff", "list", l.String(), "index", i, "attempt", a, "delay", delay)
			if err := j.Token.Sleep(delay); err != nil {
				return err
			}
		}
		if err := j.Token.Checkpoint(); err != nil {
			return err
		}

		j.Update(func(p *model.JobProgress) {
			l.of(p)[i].Attempts = a
		})

		res, err := attempt(j.Token.Context(), a)
		if err == nil {
			j.Update(func(p *model.JobProgress) {
				r := &l.of(p)[i]
				r.Advance(res.status)
				r.Error = ""
				if res.out.URL != "" {
					r.MediaURL = res.out.URL
				}
				if res.out.RemoteID != "" {
					r.RemoteID = res.out.RemoteID
				}
			})
			j.log.Info("phase_item_done", "list", l.String(), "index", i, "status", res.status, "attempt", a)
			return nil
		}
		if j.Token.Aborted() || control.IsAborted(err) {
			return control.ErrAborted
		}

		j.log.Warn("phase_item_attempt_failed", "list", l.String(), "index", i, "attempt", a, "max_attempts", maxAttempts, "error", err)
		msg := err.Error()
		j.Update(func(p *model.JobProgress) {
			l.of(p)[i].Error = msg
			p.RetryCount++
			p.LastError = msg
		})
	}

	j.Update(func(p *model.JobProgress) {
		l.of(p)[i].Advance(model.ItemError)
	})
	j.log.Error("phase_item_failed", "list", l.String(), "index", i, "attempts", maxAttempts)
	return nil
}

// galleryPosition maps an item index to its position in the remote gallery,
// which only holds produced items.
func galleryPosition(items []model.ItemResult, index int) int {
	pos := 0
	for k := 0; k < index && k < len(items); k++ {
		if items[k].Status.Done() {
			pos++
		}
	}
	return pos
}
