package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/ski11z/autoboom/pkg/control"
	"github.com/ski11z/autoboom/pkg/model"
)

// VideoPlan is one video of the frames-to-video stage. End is -1 for a
// single-frame animation.
type VideoPlan struct {
	Prompt string
	Start  int
	End    int
}

// PlanVideos maps animation prompts onto gallery positions. In single-image
// mode each prompt animates one image. Otherwise each prompt is a transition
// between consecutive images and one leftover prompt animates the last image.
func PlanVideos(prompts []string, totalImages int, singleImage bool) []VideoPlan {
	var plan []VideoPlan
	if singleImage {
		n := min(len(prompts), totalImages)
		for k := 0; k < n; k++ {
			plan = append(plan, VideoPlan{Prompt: prompts[k], Start: k, End: -1})
		}
		return plan
	}

	pairs := max(min(len(prompts), totalImages-1), 0)
	for k := 0; k < pairs; k++ {
		plan = append(plan, VideoPlan{Prompt: prompts[k], Start: k, End: k + 1})
	}
	if len(prompts) > pairs && totalImages >= 1 {
		plan = append(plan, VideoPlan{Prompt: prompts[pairs], Start: totalImages - 1, End: -1})
	}
	return plan
}

// RunVideos is the video stage of frames-to-video. Submissions are throttled
// and a retry first tries to reuse the previous composer state.
func RunVideos(j *Job) error {
	s := j.Project.Settings
	plan := PlanVideos(j.Project.AnimationPrompts, j.Progress().TotalImages, s.SingleImageMode)
	prompts := make([]string, len(plan))
	for k, v := range plan {
		prompts[k] = v.Prompt
	}

	j.Update(func(p *model.JobProgress) {
		p.Phase = model.PhaseVideo
		p.Videos = model.EnsureItems(p.Videos, prompts)
		p.TotalVideos = len(plan)
	})
	j.log.Info("video_phase_start", "videos", len(plan), "single_image", s.SingleImageMode)

	start := j.prepare(videos)
	for i := start; i < len(plan); i++ {
		if j.item(videos, i).Status.Done() {
			continue
		}
		if err := j.throttle.Wait(j.Token, i); err != nil {
			return err
		}
		v := plan[i]
		err := j.runItem(videos, i, func(ctx context.Context, attempt int) (outcome, error) {
			return j.submitVideo(ctx, i, v, attempt)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) submitVideo(ctx context.Context, i int, v VideoPlan, attempt int) (outcome, error) {
	r := j.remote
	if attempt > 1 {
		err := r.ReusePrompt(ctx, i)
		if err == nil {
			err = r.Submit(ctx)
		}
		if err == nil {
			return outcome{status: model.ItemSubmitted}, nil
		}
		if control.IsAborted(err) {
			return outcome{}, err
		}
		j.log.Info("reuse_prompt_failed", "index", i, "error", err)
	}

	if err := r.AttachFrames(ctx, v.Start, v.End); err != nil {
		return outcome{}, fmt.Errorf("attach frames: %w", err)
	}
	if err := r.EnterPrompt(ctx, v.Prompt); err != nil {
		return outcome{}, fmt.Errorf("enter prompt: %w", err)
	}
	if err := r.Submit(ctx); err != nil {
		return outcome{}, fmt.Errorf("submit: %w", err)
	}
	return outcome{status: model.ItemSubmitted}, nil
}

// RunTextToVideo submits every prompt, throttled, then waits for the remote
// renders to drain.
func RunTextToVideo(j *Job) error {
	prompts := j.Project.AnimationPrompts
	j.Update(func(p *model.JobProgress) {
		p.Phase = model.PhaseTextToVideo
		p.Videos = model.EnsureItems(p.Videos, prompts)
		p.TotalVideos = len(prompts)
	})

	start := j.prepare(videos)
	for i := start; i < len(prompts); i++ {
		if j.item(videos, i).Status.Done() {
			continue
		}
		if err := j.throttle.Wait(j.Token, i); err != nil {
			return err
		}
		prompt := prompts[i]
		err := j.runItem(videos, i, func(ctx context.Context, _ int) (outcome, error) {
			if err := j.remote.EnterPrompt(ctx, prompt); err != nil {
				return outcome{}, fmt.Errorf("enter prompt: %w", err)
			}
			if err := j.remote.Submit(ctx); err != nil {
				return outcome{}, fmt.Errorf("submit: %w", err)
			}
			return outcome{status: model.ItemSubmitted}, nil
		})
		if err != nil {
			return err
		}
	}

	if done, _ := model.Counts(j.items(videos)); done == 0 {
		return nil
	}
	return j.awaitRenders()
}

// awaitRenders polls the pending count until it reaches zero. Once the wait
// bound elapses the renders are assumed complete.
func (j *Job) awaitRenders() error {
	start := time.Now()
	for {
		if err := j.Token.Checkpoint(); err != nil {
			return err
		}
		pending, err := j.remote.PendingCount(j.Token.Context())
		switch {
		case err != nil && (j.Token.Aborted() || control.IsAborted(err)):
			return control.ErrAborted
		case err != nil:
			j.log.Warn("render_poll_failed", "error", err)
		case pending == 0:
			j.log.Info("renders_complete", "waited", time.Since(start))
			return nil
		default:
			j.log.Info("renders_pending", "pending", pending)
		}

		if time.Since(start) >= j.opts.RenderMaxWait {
			j.log.Warn("render_wait_elapsed", "waited", time.Since(start), "assumed", "complete")
			return nil
		}
		if err := j.Token.Sleep(j.opts.RenderPoll); err != nil {
			return err
		}
	}
}
