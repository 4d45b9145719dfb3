package phase

import (
	"context"
	"fmt"

	"github.com/ski11z/autoboom/pkg/control"
	"github.com/ski11z/autoboom/pkg/gateway"
	"github.com/ski11z/autoboom/pkg/model"
)

// imageStep describes how one image attempt is driven.
type imageStep struct {
	chain    bool // attach the previous image
	wait     bool // await the result
	recovery bool // run policy-violation recovery
}

// RunImages is the image stage of frames-to-video: every image after the
// first chains off the previous one and each result is awaited.
func RunImages(j *Job) error {
	prompts := j.Project.ImagePrompts
	j.Update(func(p *model.JobProgress) {
		p.Phase = model.PhaseImage
		p.Images = model.EnsureItems(p.Images, prompts)
		p.TotalImages = len(prompts)
	})

	start := j.prepare(images)
	for i := start; i < len(prompts); i++ {
		if j.item(images, i).Status.Done() {
			continue
		}
		step := imageStep{chain: true, wait: true}
		err := j.runItem(images, i, func(ctx context.Context, _ int) (outcome, error) {
			return j.generateImage(ctx, i, step)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// FastFire reports whether create-image may submit without awaiting: the
// policy is not off, chain mode is off and no per-image references exist.
func FastFire(s model.Settings) bool {
	return s.FastFire != model.FastFireOff && !s.ChainMode && !s.HasImageReferences()
}

// RunCreateImages is the create-image mode. With fast-fire every image but
// the last is marked ready right after submission.
func RunCreateImages(j *Job) error {
	prompts := j.Project.ImagePrompts
	s := j.Project.Settings
	fast := FastFire(s)

	j.Update(func(p *model.JobProgress) {
		p.Phase = model.PhaseCreateImage
		p.Images = model.EnsureItems(p.Images, prompts)
		p.TotalImages = len(prompts)
	})
	j.log.Info("create_image_start", "images", len(prompts), "fast_fire", fast, "chain_mode", s.ChainMode)

	start := j.prepare(images)
	last := len(prompts) - 1
	for i := start; i < len(prompts); i++ {
		if j.item(images, i).Status.Done() {
			continue
		}
		step := imageStep{
			chain:    s.ChainMode,
			wait:     !fast || i == last,
			recovery: true,
		}
		err := j.runItem(images, i, func(ctx context.Context, _ int) (outcome, error) {
			return j.generateImage(ctx, i, step)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) generateImage(ctx context.Context, i int, step imageStep) (outcome, error) {
	r := j.remote
	s := j.Project.Settings
	prompt := j.Project.ImagePrompts[i]

	if step.chain && i > 0 {
		if err := j.attachPrevious(ctx, i); err != nil {
			return outcome{}, err
		}
	}
	refs := append(append([]string(nil), s.ReferenceImageURLs...), s.ReferencesFor(i)...)
	for _, url := range refs {
		if err := r.UploadReference(ctx, url); err != nil {
			return outcome{}, fmt.Errorf("attach reference: %w", err)
		}
	}
	if err := r.EnterPrompt(ctx, prompt); err != nil {
		return outcome{}, fmt.Errorf("enter prompt: %w", err)
	}

	out, err := j.submit(ctx, step.wait)
	if err != nil && step.recovery && gateway.IsPolicyViolation(err) {
		out, err = j.recoverPolicyViolation(ctx, i, prompt, step.wait, err)
	}
	if err != nil {
		return outcome{}, err
	}
	return outcome{status: model.ItemReady, out: out}, nil
}

func (j *Job) submit(ctx context.Context, wait bool) (gateway.Output, error) {
	if err := j.remote.Submit(ctx); err != nil {
		return gateway.Output{}, fmt.Errorf("submit: %w", err)
	}
	if !wait {
		return gateway.Output{}, nil
	}
	out, err := j.remote.AwaitResult(ctx, j.Project.Settings.GenerationTimeout())
	if err != nil {
		return gateway.Output{}, fmt.Errorf("await result: %w", err)
	}
	return out, nil
}

// attachPrevious attaches the most recent produced image before i, first by
// gallery position and then by uploading its URL.
func (j *Job) attachPrevious(ctx context.Context, i int) error {
	items := j.items(images)
	prev := -1
	for k := i - 1; k >= 0; k-- {
		if items[k].Status.Done() {
			prev = k
			break
		}
	}
	if prev < 0 {
		return nil
	}

	err := j.remote.AttachPreviousImage(ctx, galleryPosition(items, prev))
	if err == nil {
		return nil
	}
	if control.IsAborted(err) {
		return err
	}
	url := items[prev].MediaURL
	if url == "" {
		return fmt.Errorf("attach previous image: %w", err)
	}
	j.log.Info("attach_previous_fallback", "index", i, "previous", prev, "error", err)
	if err := j.remote.UploadReference(ctx, url); err != nil {
		return fmt.Errorf("attach previous image by url: %w", err)
	}
	return nil
}

// recoverPolicyViolation tries the remote retry control once, then restores
// and rewrites the prompt and submits again. Each step is reported.
func (j *Job) recoverPolicyViolation(ctx context.Context, i int, prompt string, wait bool, cause error) (gateway.Output, error) {
	r := j.remote
	j.log.Warn("policy_violation", "index", i, "error", cause)

	var out gateway.Output
	err := r.RetryGeneration(ctx)
	if err == nil && wait {
		out, err = r.AwaitResult(ctx, j.Project.Settings.GenerationTimeout())
	}
	if err == nil {
		j.notifyPolicyViolation(i, prompt, "", true)
		return out, nil
	}
	if control.IsAborted(err) {
		return gateway.Output{}, err
	}
	j.log.Info("policy_retry_failed", "index", i, "error", err)
	j.notifyPolicyViolation(i, prompt, "", false)

	if err := r.RestorePrompt(ctx, prompt); err != nil {
		j.notifyPolicyViolation(i, prompt, "", false)
		return gateway.Output{}, fmt.Errorf("restore prompt after %v: %w", cause, err)
	}
	rewritten, err := r.RewritePrompt(ctx, prompt)
	if err != nil {
		j.notifyPolicyViolation(i, prompt, "", false)
		return gateway.Output{}, fmt.Errorf("rewrite prompt after %v: %w", cause, err)
	}
	if err := r.EnterPrompt(ctx, rewritten); err != nil {
		j.notifyPolicyViolation(i, prompt, rewritten, false)
		return gateway.Output{}, fmt.Errorf("enter rewritten prompt: %w", err)
	}

	out, err = j.submit(ctx, wait)
	j.notifyPolicyViolation(i, prompt, rewritten, err == nil)
	if err != nil {
		return gateway.Output{}, err
	}
	j.log.Info("policy_violation_recovered", "index", i, "rewritten", true)
	return out, nil
}
