// Package phase implements the per-mode generation pipelines. Every phase
// iterates its items from the first unfinished one, runs each through a
// bounded retry loop and isolates permanent failures to the item.
package phase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ski11z/autoboom/pkg/broadcast"
	"github.com/ski11z/autoboom/pkg/control"
	"github.com/ski11z/autoboom/pkg/gateway"
	"github.com/ski11z/autoboom/pkg/logging"
	"github.com/ski11z/autoboom/pkg/model"
	"github.com/ski11z/autoboom/pkg/notify"
	"github.com/ski11z/autoboom/pkg/retry"
	"github.com/ski11z/autoboom/pkg/security"
	"github.com/ski11z/autoboom/pkg/throttle"
)

// Defaults for the render and download polling loops.
const (
	DefaultRenderMaxWait = 20 * time.Minute
	DefaultRenderPoll    = 15 * time.Second
)

// Store persists the progress record.
type Store interface {
	SaveJobProgress(ctx context.Context, p *model.JobProgress) error
}

// Archiver keeps a copy of a downloaded file and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, projectName, localPath string) (string, error)
}

// Deps are the collaborators a job talks to. Nil optional fields are
// replaced with no-op implementations.
type Deps struct {
	Remote    *gateway.Remote
	Store     Store
	Publisher broadcast.Publisher
	Notifier  notify.Notifier
	Validator *security.Validator
	Archiver  Archiver
}

// Options are the timing knobs of the phases.
type Options struct {
	Backoff       retry.Config
	Throttle      throttle.Config
	RenderMaxWait time.Duration
	RenderPoll    time.Duration
}

func (o Options) normalized() Options {
	if o.RenderMaxWait <= 0 {
		o.RenderMaxWait = DefaultRenderMaxWait
	}
	if o.RenderPoll <= 0 {
		o.RenderPoll = DefaultRenderPoll
	}
	return o
}

// Job is the single active job: the project being driven, its progress and
// the cancellation token checked at every suspension point. It is owned by
// the orchestrator and handed to each phase.
type Job struct {
	Project *model.Project
	Token   *control.Token

	remote    *gateway.Remote
	store     Store
	publisher broadcast.Publisher
	notifier  notify.Notifier
	validator *security.Validator
	archiver  Archiver
	throttle  *throttle.Throttle
	opts      Options
	log       *slog.Logger

	mu       sync.Mutex
	progress *model.JobProgress
}

// NewJob binds a project and its progress record to a token.
func NewJob(p *model.Project, prog *model.JobProgress, tok *control.Token, deps Deps, opts Options) *Job {
	opts = opts.normalized()
	if deps.Publisher == nil {
		deps.Publisher = broadcast.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &Job{
		Project:   p,
		Token:     tok,
		remote:    deps.Remote,
		store:     deps.Store,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		validator: deps.Validator,
		archiver:  deps.Archiver,
		throttle:  throttle.New(deps.Remote, opts.Throttle),
		opts:      opts,
		log:       logging.Component("phase").With("project_id", p.ID),
		progress:  prog,
	}
}

// Remote returns the typed action surface.
func (j *Job) Remote() *gateway.Remote { return j.remote }

// Progress returns a copy of the current progress record.
func (j *Job) Progress() *model.JobProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress.Clone()
}

// Status returns the polled view of the job.
func (j *Job) Status() model.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return model.StatusOf(j.progress, !j.Token.Aborted(), j.Token.Paused())
}

// Update mutates progress, then persists and broadcasts the result. It is the
// only writer of the record while the job is active.
func (j *Job) Update(fn func(p *model.JobProgress)) {
	j.mu.Lock()
	fn(j.progress)
	j.progress.UpdatedAt = time.Now().UTC()
	snap := j.progress.Clone()
	status := model.StatusOf(snap, !j.Token.Aborted(), j.Token.Paused())
	j.mu.Unlock()

	// Writes must land even while the token is being aborted.
	ctx := context.WithoutCancel(j.Token.Context())
	if j.store != nil {
		if err := j.store.SaveJobProgress(ctx, snap); err != nil {
			j.log.Warn("progress_save_failed", "error", err)
		}
	}
	if err := j.publisher.Publish(ctx, status); err != nil {
		j.log.Debug("status_publish_failed", "error", err)
	}
}

// Broadcast pushes the current status without changing progress.
func (j *Job) Broadcast() {
	status := j.Status()
	if err := j.publisher.Publish(context.WithoutCancel(j.Token.Context()), status); err != nil {
		j.log.Debug("status_publish_failed", "error", err)
	}
}

func (j *Job) notifyPolicyViolation(index int, original, rewritten string, recovered bool) {
	ctx := context.WithoutCancel(j.Token.Context())
	if err := j.notifier.NotifyPolicyViolation(ctx, j.Project, index, original, rewritten, recovered); err != nil {
		j.log.Warn("notify_policy_violation_failed", "index", index, "error", err)
	}
}
