// Package orchestrator drives one project at a time through settings
// configuration, its mode's phases and finalization, and exposes the
// pause, resume and stop controls.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ski11z/autoboom/pkg/broadcast"
	"github.com/ski11z/autoboom/pkg/control"
	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/fsm"
	"github.com/ski11z/autoboom/pkg/gateway"
	"github.com/ski11z/autoboom/pkg/logging"
	"github.com/ski11z/autoboom/pkg/model"
	"github.com/ski11z/autoboom/pkg/notify"
	"github.com/ski11z/autoboom/pkg/phase"
	"github.com/ski11z/autoboom/pkg/security"
)

// Settings gate defaults.
const (
	DefaultSettingsAttempts = 3
	DefaultSettingsDelay    = 2 * time.Second
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	SaveProject(ctx context.Context, p *model.Project) error
	GetJobProgress(ctx context.Context, projectID string) (*model.JobProgress, error)
	SaveJobProgress(ctx context.Context, p *model.JobProgress) error
	SaveRunRecord(ctx context.Context, rec *model.RunRecord) error
}

// Options configures collaborators and timings. Zero values take defaults.
type Options struct {
	Notifier  notify.Notifier
	Publisher broadcast.Publisher
	Validator *security.Validator
	Archiver  phase.Archiver

	SettingsAttempts int
	SettingsDelay    time.Duration
	PausePoll        time.Duration
	Phase            phase.Options
}

// Result is the terminal outcome of a run. Outcome is empty when the run
// was stopped.
type Result struct {
	ProjectID string
	Outcome   model.Outcome
	Aborted   bool
	Err       error
	Record    *model.RunRecord
}

// Orchestrator owns the single active job slot.
type Orchestrator struct {
	store  Store
	remote *gateway.Remote
	opts   Options
	log    *slog.Logger

	mu         sync.Mutex
	active     *activeJob
	last       *model.JobProgress
	lastResult *Result
}

// activeJob is the ownership token of the running project.
type activeJob struct {
	job     *phase.Job
	machine *fsm.Machine
	started time.Time
	done    chan struct{}

	mu      sync.Mutex // guards project writes and stopped
	stopped bool
	result  Result
}

// New creates an orchestrator.
func New(store Store, gw gateway.Gateway, opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Publisher == nil {
		opts.Publisher = broadcast.Nop{}
	}
	if opts.SettingsAttempts <= 0 {
		opts.SettingsAttempts = DefaultSettingsAttempts
	}
	if opts.SettingsDelay <= 0 {
		opts.SettingsDelay = DefaultSettingsDelay
	}
	if opts.PausePoll <= 0 {
		opts.PausePoll = control.DefaultPollInterval
	}
	return &Orchestrator{
		store:  store,
		remote: gateway.NewRemote(gw),
		opts:   opts,
		log:    logging.Component("orchestrator"),
	}
}

// Start validates and launches a project in the background. It rejects a
// start while another project is active and fails fast, without touching
// the remote system, when the project cannot run as defined.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		o.log.Warn("start_rejected", "project_id", id, "active_project_id", o.active.job.Project.ID)
		return errors.ErrAlreadyRunning
	}

	p, err := o.store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckPreconditions(p); err != nil {
		o.log.Warn("precondition_failed", "project_id", id, "error", err)
		return err
	}

	prog, err := o.store.GetJobProgress(ctx, id)
	if err != nil {
		return errors.Wrap(err, "failed to load job progress")
	}
	if prog == nil || prog.State == model.StateCompleted {
		prog = model.NewJobProgress(id)
	}
	prog.LastError = ""
	prog.PausedPhase = ""

	p.Status = model.ProjectRunning
	if err := o.store.SaveProject(ctx, p); err != nil {
		return errors.Wrap(err, "failed to save project")
	}

	if o.opts.Validator != nil {
		o.opts.Validator.Reset()
	}

	tok := control.New(context.WithoutCancel(ctx), o.opts.PausePoll)
	job := phase.NewJob(p, prog, tok, phase.Deps{
		Remote:    o.remote,
		Store:     o.store,
		Publisher: o.opts.Publisher,
		Notifier:  o.opts.Notifier,
		Validator: o.opts.Validator,
		Archiver:  o.opts.Archiver,
	}, o.opts.Phase)

	machine, err := o.newMachine(job, prog.Lifecycle)
	if err != nil {
		tok.Abort()
		return err
	}

	a := &activeJob{
		job:     job,
		machine: machine,
		started: time.Now().UTC(),
		done:    make(chan struct{}),
	}
	o.active = a
	o.log.Info("project_started", "project_id", id, "mode", p.Mode, "resumed", prog.CurrentIndex > 0 || len(prog.Images) > 0)

	go o.drive(a)
	return nil
}

func (o *Orchestrator) newMachine(job *phase.Job, snap *fsm.Snapshot) (*fsm.Machine, error) {
	handlers := fsm.Handlers{
		OnTransition: func(from, to fsm.State, ev fsm.Event, _ any) {
			o.log.Info("lifecycle_transition", "project_id", job.Project.ID, "from", from, "to", to, "event", ev)
		},
		OnCheckpoint: func(s fsm.Snapshot) {
			job.Update(func(p *model.JobProgress) {
				p.State = model.State(s.State)
				p.Lifecycle = &s
			})
		},
	}
	if snap != nil && snap.Definition == LifecycleName {
		return fsm.Restore(*snap, handlers)
	}
	return fsm.New(job.Project.ID, lifecycle, handlers, nil)
}

// Run starts a project and blocks until it finishes. Cancelling ctx stops
// the run.
func (o *Orchestrator) Run(ctx context.Context, id string) (Result, error) {
	if err := o.Start(ctx, id); err != nil {
		return Result{ProjectID: id, Err: err}, err
	}
	return o.Wait(ctx)
}

// Wait blocks until the active run finishes and returns its result. When
// nothing is running it returns the last result. Cancelling ctx stops the
// run.
func (o *Orchestrator) Wait(ctx context.Context) (Result, error) {
	o.mu.Lock()
	a := o.active
	last := o.lastResult
	o.mu.Unlock()

	if a == nil {
		if last == nil {
			return Result{}, errors.ErrNotActive
		}
		return *last, nil
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		o.abort(a)
		<-a.done
	}
	return a.result, nil
}

// Pause holds the active job at its next suspension point. An in-flight
// remote call is not interrupted.
func (o *Orchestrator) Pause() error {
	a := o.current()
	if a == nil {
		return errors.ErrNotActive
	}

	a.job.Token.Pause()
	cur := a.machine.State()
	if cur != stPaused {
		a.machine.Set(ctxPausedPhase, string(cur))
	}
	o.send(a, EvPause)
	a.job.Update(func(p *model.JobProgress) {
		p.PausedPhase = model.State(cur)
	})
	o.setProjectStatus(a, model.ProjectPaused)
	o.log.Info("project_paused", "project_id", a.job.Project.ID, "phase", cur)
	return nil
}

// Resume continues the active job in place, or cold-resumes the project
// from its persisted progress with a fresh remote workspace.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	a := o.current()
	if a == nil {
		o.log.Info("project_cold_resume", "project_id", id)
		return o.Start(ctx, id)
	}
	if a.job.Project.ID != id {
		return errors.ErrAlreadyRunning
	}

	// A forward event accepted while paused has already moved the machine on.
	if cur := a.machine.State(); cur == stPaused {
		o.send(a, EvResume)
	} else {
		o.log.Info("lifecycle_advanced_while_paused", "project_id", id, "state", cur)
	}
	a.job.Update(func(p *model.JobProgress) {
		p.PausedPhase = ""
	})
	o.setProjectStatus(a, model.ProjectRunning)
	a.job.Token.Resume()
	o.log.Info("project_resumed", "project_id", id)
	return nil
}

// Stop aborts the active job and waits for it to unwind. Progress is kept in
// the store with the state reset to idle.
func (o *Orchestrator) Stop(ctx context.Context) error {
	a := o.current()
	if a == nil {
		return errors.ErrNotActive
	}
	o.abort(a)

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) abort(a *activeJob) {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.job.Token.Abort()
	o.log.Info("project_stop_requested", "project_id", a.job.Project.ID)
}

// Status returns the view of the active job, or of the last one when idle.
func (o *Orchestrator) Status() model.Status {
	o.mu.Lock()
	a := o.active
	last := o.last
	o.mu.Unlock()

	if a != nil {
		return a.job.Status()
	}
	return model.StatusOf(last, false, false)
}

// Active returns the id of the running project, if any.
func (o *Orchestrator) Active() (string, bool) {
	a := o.current()
	if a == nil {
		return "", false
	}
	return a.job.Project.ID, true
}

func (o *Orchestrator) current() *activeJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) setProjectStatus(a *activeJob, status model.ProjectStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.job.Project
	p.Status = status
	if err := o.store.SaveProject(context.Background(), p); err != nil {
		o.log.Warn("project_save_failed", "project_id", p.ID, "error", err)
	}
}
