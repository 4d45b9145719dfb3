package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ski11z/autoboom/pkg/control"
	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/fsm"
	"github.com/ski11z/autoboom/pkg/gateway"
	"github.com/ski11z/autoboom/pkg/model"
	"github.com/ski11z/autoboom/pkg/phase"
	"github.com/ski11z/autoboom/pkg/retry"
)

// CheckPreconditions rejects projects that cannot run as defined.
func CheckPreconditions(p *model.Project) error {
	if !p.Mode.Valid() {
		return errors.Precondition("project %s has unknown mode %q", p.ID, p.Mode)
	}
	switch p.Mode {
	case model.ModeFramesToVideo:
		if len(p.ImagePrompts) == 0 || len(p.AnimationPrompts) == 0 {
			return errors.Precondition("frames-to-video needs at least one image prompt and one animation prompt (has %d and %d)",
				len(p.ImagePrompts), len(p.AnimationPrompts))
		}
	case model.ModeTextToVideo:
		if len(p.AnimationPrompts) == 0 {
			return errors.Precondition("text-to-video needs at least one video prompt")
		}
	case model.ModeCreateImage:
		if len(p.ImagePrompts) == 0 {
			return errors.Precondition("create-image needs at least one image prompt")
		}
	}
	for i, s := range p.ImagePrompts {
		if s == "" {
			return errors.Precondition("image prompt %d is empty", i+1)
		}
	}
	for i, s := range p.AnimationPrompts {
		if s == "" {
			return errors.Precondition("animation prompt %d is empty", i+1)
		}
	}
	if p.Settings.FastFire != "" && p.Settings.FastFire != model.FastFireAuto && p.Settings.FastFire != model.FastFireOff {
		return errors.Precondition("fast_fire must be %q or %q, got %q", model.FastFireAuto, model.FastFireOff, p.Settings.FastFire)
	}
	return nil
}

func (o *Orchestrator) drive(a *activeJob) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("phase_panic", "project_id", a.job.Project.ID, "panic", r)
			err = fmt.Errorf("phase panicked: %v", r)
		}
		o.finish(a, err)
	}()
	err = o.execute(a)
}

func (o *Orchestrator) send(a *activeJob, ev fsm.Event) {
	if res := a.machine.Send(ev, nil); !res.Changed {
		o.log.Warn("lifecycle_event_ignored", "project_id", a.job.Project.ID, "state", res.From, "event", ev)
	}
}

// execute runs the project's pipeline. Phase modules return only aborts;
// anything else returned here is fatal to the run.
func (o *Orchestrator) execute(a *activeJob) error {
	job := a.job
	p := job.Project
	tok := job.Token

	o.send(a, EvStart)

	url, err := job.Remote().CreateWorkspace(tok.Context())
	if err != nil {
		return errors.Wrap(err, "failed to create remote workspace")
	}
	if url == "" {
		// Some agents only report the URL once the workspace has loaded.
		if url, err = job.Remote().CurrentURL(tok.Context()); err != nil {
			o.log.Warn("workspace_url_unavailable", "project_id", p.ID, "error", err)
		}
	}
	a.mu.Lock()
	p.SessionURL = url
	a.mu.Unlock()
	o.setProjectStatus(a, model.ProjectRunning)
	o.log.Info("workspace_created", "project_id", p.ID, "url", url)

	switch p.Mode {
	case model.ModeFramesToVideo:
		if err := o.configure(a, gateway.TargetImage); err != nil {
			return err
		}
		o.send(a, EvImage)
		if err := phase.RunImages(job); err != nil {
			return err
		}

		if err := tok.Checkpoint(); err != nil {
			return err
		}
		o.send(a, EvConfigure)
		if err := o.configure(a, gateway.TargetVideo); err != nil {
			return err
		}
		if err := o.verifyImages(a); err != nil {
			return err
		}
		o.send(a, EvVideo)
		if err := phase.RunVideos(job); err != nil {
			return err
		}

	case model.ModeTextToVideo:
		if err := o.configure(a, gateway.TargetVideo); err != nil {
			return err
		}
		o.send(a, EvTextToVideo)
		if err := phase.RunTextToVideo(job); err != nil {
			return err
		}

	case model.ModeCreateImage:
		if err := o.configure(a, gateway.TargetImage); err != nil {
			return err
		}
		o.send(a, EvCreateImage)
		if err := phase.RunCreateImages(job); err != nil {
			return err
		}
	}

	if p.Settings.AutoDownload {
		if err := tok.Checkpoint(); err != nil {
			return err
		}
		o.send(a, EvDownload)
		if err := phase.RunDownload(job); err != nil {
			return err
		}
	}
	return tok.Checkpoint()
}

// configure is the settings hard gate: a fixed number of attempts with a
// fixed delay, then a ConfigurationError.
func (o *Orchestrator) configure(a *activeJob, target gateway.Target) error {
	job := a.job
	policy := retry.Fixed{Attempts: o.opts.SettingsAttempts, Delay: o.opts.SettingsDelay}

	err := policy.Do(job.Token, func(attempt int) error {
		ctx, cancel := context.WithTimeout(job.Token.Context(), ConfigureTimeout)
		defer cancel()
		err := job.Remote().ConfigureSettings(ctx, target, job.Project.Settings)
		if err != nil {
			o.log.Warn("settings_attempt_failed", "project_id", job.Project.ID, "target", target, "attempt", attempt, "error", err)
		}
		return err
	})
	if err == nil && a.machine.State() == stError {
		err = fmt.Errorf("configuring timed out after %s", ConfigureTimeout)
	}
	if err != nil {
		if control.IsAborted(err) {
			return err
		}
		return &errors.ConfigurationError{Attempts: o.opts.SettingsAttempts, Err: err}
	}
	o.log.Info("settings_applied", "project_id", job.Project.ID, "target", target)
	return nil
}

// verifyImages reconciles the image total with what the remote gallery
// actually holds before videos reference it by position.
func (o *Orchestrator) verifyImages(a *activeJob) error {
	job := a.job
	prog := job.Progress()
	observed, err := job.Remote().CountItems(job.Token.Context(), gateway.KindImage)
	if err != nil {
		if control.IsAborted(err) {
			return err
		}
		observed, _ = model.Counts(prog.Images)
		o.log.Warn("image_count_failed", "project_id", job.Project.ID, "fallback", observed, "error", err)
	}

	if observed != prog.TotalImages {
		o.log.Warn("image_count_reconciled", "project_id", job.Project.ID, "expected", prog.TotalImages, "observed", observed)
		job.Update(func(p *model.JobProgress) {
			p.TotalImages = observed
		})
	}

	// Single-image mode animates whatever exists, even an empty gallery.
	if !job.Project.Settings.SingleImageMode && observed < 2 {
		return fmt.Errorf("video phase needs at least 2 images, found %d", observed)
	}
	return nil
}

// finish records the terminal outcome. An abort skips the error path.
func (o *Orchestrator) finish(a *activeJob, runErr error) {
	job := a.job
	p := job.Project

	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	aborted := stopped || (runErr != nil && control.IsAborted(runErr) && job.Token.Aborted())

	result := Result{ProjectID: p.ID, Aborted: aborted}
	if aborted {
		o.send(a, EvStop)
		job.Update(func(prog *model.JobProgress) {
			prog.PausedPhase = ""
		})
		o.setProjectStatus(a, model.ProjectDraft)
		o.log.Info("project_stopped", "project_id", p.ID)
	} else {
		result.Record = o.finalize(a, runErr)
		result.Outcome = result.Record.Outcome
		result.Err = runErr
	}

	a.machine.Destroy()
	job.Token.Abort()
	a.result = result

	o.mu.Lock()
	o.active = nil
	o.last = job.Progress()
	o.lastResult = &result
	o.mu.Unlock()

	close(a.done)
}

// finalize settles status, run history and the single notification of a run
// that was not stopped.
func (o *Orchestrator) finalize(a *activeJob, runErr error) *model.RunRecord {
	job := a.job
	p := job.Project
	ctx := context.WithoutCancel(job.Token.Context())

	outcome := model.OutcomeCompleted
	status := model.ProjectCompleted
	if runErr != nil {
		outcome = model.OutcomeError
		status = model.ProjectError
		msg := runErr.Error()
		job.Update(func(prog *model.JobProgress) {
			prog.LastError = msg
		})
		o.send(a, EvFail)
		o.log.Error("project_failed", "project_id", p.ID, "error", runErr)
	} else {
		if job.Progress().HasErrors() {
			outcome = model.OutcomeCompletedWithErrors
			status = model.ProjectCompletedWithErrors
		}
		o.send(a, EvComplete)
		o.log.Info("project_completed", "project_id", p.ID, "outcome", outcome)
	}
	o.setProjectStatus(a, status)

	prog := job.Progress()
	rec := &model.RunRecord{
		ID:         uuid.NewString(),
		ProjectID:  p.ID,
		Outcome:    outcome,
		StartedAt:  a.started,
		FinishedAt: time.Now().UTC(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	rec.ImagesReady, rec.ImagesFailed = model.Counts(prog.Images)
	rec.VideosReady, rec.VideosFailed = model.Counts(prog.Videos)
	if err := o.store.SaveRunRecord(ctx, rec); err != nil {
		o.log.Warn("run_record_save_failed", "project_id", p.ID, "error", err)
	}

	a.mu.Lock()
	snapshot := *p
	a.mu.Unlock()
	if runErr != nil {
		if err := o.opts.Notifier.NotifyError(ctx, &snapshot, prog, runErr.Error()); err != nil {
			o.log.Warn("notify_error_failed", "project_id", p.ID, "error", err)
		}
	} else if err := o.opts.Notifier.NotifyCompleted(ctx, &snapshot, prog); err != nil {
		o.log.Warn("notify_completed_failed", "project_id", p.ID, "error", err)
	}
	return rec
}
