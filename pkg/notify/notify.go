// Package notify delivers fire-and-forget job notifications. Failures are
// logged by the caller and never change a job's outcome.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ski11z/autoboom/pkg/model"
)

// Notifier receives terminal outcomes and policy-violation reports.
type Notifier interface {
	NotifyCompleted(ctx context.Context, p *model.Project, prog *model.JobProgress) error
	NotifyError(ctx context.Context, p *model.Project, prog *model.JobProgress, message string) error
	NotifyPolicyViolation(ctx context.Context, p *model.Project, itemIndex int, originalPrompt, rewrittenPrompt string, recovered bool) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) NotifyCompleted(context.Context, *model.Project, *model.JobProgress) error { return nil }

func (Nop) NotifyError(context.Context, *model.Project, *model.JobProgress, string) error {
	return nil
}

func (Nop) NotifyPolicyViolation(context.Context, *model.Project, int, string, string, bool) error {
	return nil
}

// Log writes every notification to the structured log.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l Log) NotifyCompleted(_ context.Context, p *model.Project, prog *model.JobProgress) error {
	ready, failed := 0, 0
	if prog != nil {
		ready, failed = model.Counts(prog.Images)
	}
	l.logger().Info("notify_completed", "project_id", p.ID, "status", p.Status, "images_ready", ready, "images_failed", failed)
	return nil
}

func (l Log) NotifyError(_ context.Context, p *model.Project, _ *model.JobProgress, message string) error {
	l.logger().Error("notify_error", "project_id", p.ID, "message", message)
	return nil
}

func (l Log) NotifyPolicyViolation(_ context.Context, p *model.Project, itemIndex int, original, rewritten string, recovered bool) error {
	l.logger().Warn("notify_policy_violation", "project_id", p.ID, "index", itemIndex,
		"original_prompt", original, "rewritten_prompt", rewritten, "recovered", recovered)
	return nil
}

// Multi fans out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) NotifyCompleted(ctx context.Context, p *model.Project, prog *model.JobProgress) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyCompleted(ctx, p, prog))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyError(ctx context.Context, p *model.Project, prog *model.JobProgress, message string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyError(ctx, p, prog, message))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyPolicyViolation(ctx context.Context, p *model.Project, itemIndex int, original, rewritten string, recovered bool) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyPolicyViolation(ctx, p, itemIndex, original, rewritten, recovered))
	}
	return errors.Join(errs...)
}
