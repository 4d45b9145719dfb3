package phase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ski11z/autoboom/pkg/control"
	"github.com/ski11z/autoboom/pkg/gateway"
	"github.com/ski11z/autoboom/pkg/model"
	"github.com/ski11z/autoboom/pkg/notify"
	"github.com/ski11z/autoboom/pkg/retry"
	"github.com/ski11z/autoboom/pkg/security"
	"github.com/ski11z/autoboom/pkg/throttle"
)

type memStore struct {
	mu    sync.Mutex
	saves int
	last  *model.JobProgress
}

func (s *memStore) SaveJobProgress(_ context.Context, p *model.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = p
	return nil
}

type policyNote struct {
	index     int
	rewritten string
	recovered bool
}

type recordingNotifier struct {
	notify.Nop
	mu    sync.Mutex
	notes []policyNote
}

func (n *recordingNotifier) NotifyPolicyViolation(_ context.Context, _ *model.Project, index int, _, rewritten string, recovered bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, policyNote{index, rewritten, recovered})
	return nil
}

type recordingArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (a *recordingArchiver) Archive(_ context.Context, _ string, localPath string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, localPath)
	return "media/" + filepath.Base(localPath), nil
}

func fastOptions() Options {
	return Options{
		Backoff:       retry.Config{Base: time.Millisecond, Multiplier: 2, Max: 2 * time.Millisecond},
		Throttle:      throttle.Config{Ceiling: 5, Interval: time.Millisecond, MaxWait: 50 * time.Millisecond},
		RenderMaxWait: 20 * time.Millisecond,
		RenderPoll:    time.Millisecond,
	}
}

// promptTracker remembers the prompt most recently entered.
type promptTracker struct {
	mu      sync.Mutex
	current string
	entered []string
}

func (pt *promptTracker) install(f *gateway.Fake) {
	f.On(gateway.ActionEnterPrompt, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		pt.mu.Lock()
		defer pt.mu.Unlock()
		pt.current, _ = params["prompt"].(string)
		pt.entered = append(pt.entered, pt.current)
		return &gateway.Result{}, nil
	})
}

func (pt *promptTracker) prompt() string {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.current
}

func newTestJob(t *testing.T, p *model.Project, f *gateway.Fake, deps Deps) (*Job, *memStore) {
	t.Helper()
	store := &memStore{}
	deps.Remote = gateway.NewRemote(f)
	deps.Store = store
	tok := control.New(context.Background(), time.Millisecond)
	t.Cleanup(tok.Abort)
	return NewJob(p, model.NewJobProgress(p.ID), tok, deps, fastOptions()), store
}

func TestRunImages_SkipAndContinue(t *testing.T) {
	f := gateway.NewFake()
	pt := &promptTracker{}
	pt.install(f)
	f.On(gateway.ActionSubmit, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		if pt.prompt() == "bad" {
			return nil, errors.New("generation failed")
		}
		return &gateway.Result{}, nil
	})

	p := &model.Project{
		ID:           "p1",
		Mode:         model.ModeFramesToVideo,
		ImagePrompts: []string{"a", "b", "bad", "d", "e"},
		Settings:     model.Settings{MaxRetries: 2},
	}
	job, store := newTestJob(t, p, f, Deps{})

	if err := RunImages(job); err != nil {
		t.Fatalf("RunImages failed: %v", err)
	}

	prog := job.Progress()
	for i, r := range prog.Images {
		want := model.ItemReady
		if i == 2 {
			want = model.ItemError
		}
		if r.Status != want {
			t.Errorf("image %d status = %s, want %s", i, r.Status, want)
		}
	}
	if prog.Images[2].Attempts != 3 {
		t.Errorf("failing image attempts = %d, want 3", prog.Images[2].Attempts)
	}
	if prog.LastError == "" {
		t.Error("last error should be recorded")
	}
	if store.saves == 0 || store.last.Images[4].Status != model.ItemReady {
		t.Error("progress should be persisted after every change")
	}
}

func TestRunImages_ResumesAtFirstUnfinished(t *testing.T) {
	f := gateway.NewFake()
	pt := &promptTracker{}
	pt.install(f)

	p := &model.Project{ID: "p1", ImagePrompts: []string{"a", "b", "c"}}
	job, _ := newTestJob(t, p, f, Deps{})
	job.Update(func(prog *model.JobProgress) {
		prog.Images = []model.ItemResult{
			{Index: 0, Prompt: "a", Status: model.ItemReady, MediaURL: "https://remote.invalid/a"},
			{Index: 1, Prompt: "b", Status: model.ItemReady, MediaURL: "https://remote.invalid/b"},
			{Index: 2, Prompt: "c", Status: model.ItemError},
		}
	})

	if err := RunImages(job); err != nil {
		t.Fatalf("RunImages failed: %v", err)
	}

	if len(pt.entered) != 1 || pt.entered[0] != "c" {
		t.Errorf("entered prompts = %v, want [c]", pt.entered)
	}
	if got := job.Progress().Images[2].Status; got != model.ItemReady {
		t.Errorf("resumed item status = %s", got)
	}
	attach := f.Calls(gateway.ActionAttachPrevious)
	if len(attach) != 1 || attach[0].Params["index"] != 1 {
		t.Errorf("attach previous calls = %+v, want gallery position 1", attach)
	}
}

func TestRunImages_AttachPreviousFallback(t *testing.T) {
	f := gateway.NewFake()
	f.On(gateway.ActionAttachPrevious, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		return nil, &gateway.RemoteError{Action: gateway.ActionAttachPrevious, Code: gateway.CodeNotFound, Message: "no gallery"}
	})

	p := &model.Project{ID: "p1", ImagePrompts: []string{"a", "b"}}
	job, _ := newTestJob(t, p, f, Deps{})

	if err := RunImages(job); err != nil {
		t.Fatalf("RunImages failed: %v", err)
	}

	prog := job.Progress()
	if prog.Images[1].Status != model.ItemReady {
		t.Fatalf("second image status = %s", prog.Images[1].Status)
	}
	uploads := f.Calls(gateway.ActionUploadReference)
	if len(uploads) != 1 || uploads[0].Params["url"] != prog.Images[0].MediaURL {
		t.Errorf("fallback upload = %+v, want url %s", uploads, prog.Images[0].MediaURL)
	}
}

func TestRunCreateImages_FastFire(t *testing.T) {
	tests := []struct {
		name       string
		settings   model.Settings
		wantAwaits int
	}{
		{"auto without chain", model.Settings{}, 1},
		{"explicitly off", model.Settings{FastFire: model.FastFireOff}, 3},
		{"chain mode", model.Settings{ChainMode: true}, 3},
		{"per-image references", model.Settings{ImageReferenceURLs: [][]string{{"https://ref.invalid/1"}}}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := gateway.NewFake()
			p := &model.Project{ID: "p1", Mode: model.ModeCreateImage, ImagePrompts: []string{"a", "b", "c"}, Settings: tt.settings}
			job, _ := newTestJob(t, p, f, Deps{})

			if err := RunCreateImages(job); err != nil {
				t.Fatalf("RunCreateImages failed: %v", err)
			}
			if got := f.Count(gateway.ActionAwait); got != tt.wantAwaits {
				t.Errorf("awaits = %d, want %d", got, tt.wantAwaits)
			}
			for i, r := range job.Progress().Images {
				if r.Status != model.ItemReady {
					t.Errorf("image %d status = %s", i, r.Status)
				}
			}
		})
	}
}

func TestRunCreateImages_PolicyViolationRecovery(t *testing.T) {
	f := gateway.NewFake()
	var mu sync.Mutex
	submits := 0
	f.On(gateway.ActionSubmit, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		submits++
		if submits == 1 {
			return nil, &gateway.RemoteError{Action: gateway.ActionSubmit, Code: gateway.CodePolicyViolation, Message: "rejected"}
		}
		return &gateway.Result{}, nil
	})
	f.On(gateway.ActionRetryGeneration, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		return nil, errors.New("retry control unavailable")
	})

	notes := &recordingNotifier{}
	p := &model.Project{
		ID:           "p1",
		Mode:         model.ModeCreateImage,
		ImagePrompts: []string{"forbidden"},
		Settings:     model.Settings{FastFire: model.FastFireOff},
	}
	job, _ := newTestJob(t, p, f, Deps{Notifier: notes})

	if err := RunCreateImages(job); err != nil {
		t.Fatalf("RunCreateImages failed: %v", err)
	}

	if got := job.Progress().Images[0]; got.Status != model.ItemReady || got.Attempts != 1 {
		t.Errorf("recovered item = %+v, want ready after one attempt", got)
	}
	if f.Count(gateway.ActionRestorePrompt) != 1 || f.Count(gateway.ActionRewritePrompt) != 1 {
		t.Error("expected restore and rewrite after failed retry")
	}
	if len(notes.notes) != 2 {
		t.Fatalf("notifications = %+v, want 2", notes.notes)
	}
	if notes.notes[0].recovered || notes.notes[0].rewritten != "" {
		t.Errorf("retry step should report failure, got %+v", notes.notes[0])
	}
	if !notes.notes[1].recovered || notes.notes[1].rewritten != "rewritten prompt" {
		t.Errorf("rewrite step should report recovery, got %+v", notes.notes[1])
	}
}

func TestPlanVideos(t *testing.T) {
	prompts := []string{"v0", "v1", "v2", "v3"}

	tests := []struct {
		name   string
		images int
		single bool
		want   []VideoPlan
	}{
		{"pairs plus extra", 3, false, []VideoPlan{{"v0", 0, 1}, {"v1", 1, 2}, {"v2", 2, -1}}},
		{"exact pairs", 5, false, []VideoPlan{{"v0", 0, 1}, {"v1", 1, 2}, {"v2", 2, 3}, {"v3", 3, 4}}},
		{"single image mode", 2, true, []VideoPlan{{"v0", 0, -1}, {"v1", 1, -1}}},
		{"one image", 1, false, []VideoPlan{{"v0", 0, -1}}},
		{"no images", 0, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanVideos(prompts, tt.images, tt.single)
			if len(got) != len(tt.want) {
				t.Fatalf("plan = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("plan[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRunVideos_ThrottleAndReusePrompt(t *testing.T) {
	f := gateway.NewFake()
	pt := &promptTracker{}
	pt.install(f)

	var mu sync.Mutex
	failedOnce := false
	f.On(gateway.ActionSubmit, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		if pt.prompt() == "v0" && !failedOnce {
			failedOnce = true
			return nil, errors.New("transient")
		}
		return &gateway.Result{}, nil
	})

	anim := []string{"v0", "v1", "v2", "v3", "v4", "v5", "v6"}
	p := &model.Project{
		ID:               "p1",
		Mode:             model.ModeFramesToVideo,
		AnimationPrompts: anim,
		Settings:         model.Settings{MaxRetries: 1, SingleImageMode: true},
	}
	job, _ := newTestJob(t, p, f, Deps{})
	job.Update(func(prog *model.JobProgress) { prog.TotalImages = len(anim) })

	if err := RunVideos(job); err != nil {
		t.Fatalf("RunVideos failed: %v", err)
	}

	for i, r := range job.Progress().Videos {
		if r.Status != model.ItemSubmitted {
			t.Errorf("video %d status = %s", i, r.Status)
		}
	}
	if got := f.Count(gateway.ActionPendingVideos); got != 2 {
		t.Errorf("pending queries = %d, want 2 (indexes 5 and 6)", got)
	}
	reuse := f.Calls(gateway.ActionReusePrompt)
	if len(reuse) != 1 || reuse[0].Params["index"] != 0 {
		t.Errorf("reuse calls = %+v, want one for index 0", reuse)
	}
	if got := f.Count(gateway.ActionAttachFrames); got != len(anim) {
		t.Errorf("attach frames = %d, want %d", got, len(anim))
	}
}

func TestRunTextToVideo_OptimisticRenderWait(t *testing.T) {
	f := gateway.NewFake()
	f.On(gateway.ActionPendingVideos, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		return gateway.NewResult(map[string]int{"count": 2}), nil
	})

	p := &model.Project{ID: "p1", Mode: model.ModeTextToVideo, AnimationPrompts: []string{"a", "b"}}
	job, _ := newTestJob(t, p, f, Deps{})

	start := time.Now()
	if err := RunTextToVideo(job); err != nil {
		t.Fatalf("RunTextToVideo failed: %v", err)
	}
	if time.Since(start) < job.opts.RenderMaxWait {
		t.Error("render wait returned before the bound with renders pending")
	}
	for i, r := range job.Progress().Videos {
		if r.Status != model.ItemSubmitted {
			t.Errorf("video %d status = %s", i, r.Status)
		}
	}
}

func TestRunDownload_ToleratesFailures(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"v0.mp4", "v2.mp4"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	f := gateway.NewFake()
	f.On(gateway.ActionListCompleted, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		return gateway.NewResult(map[string][]gateway.RemoteItem{"items": {
			{ID: "r0", Index: 0}, {ID: "r1", Index: 1}, {ID: "r2", Index: 2},
		}}), nil
	})
	f.On(gateway.ActionDownload, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		switch params["id"] {
		case "r0":
			return gateway.NewResult(gateway.Download{Path: filepath.Join(root, "v0.mp4"), Size: 4}), nil
		case "r2":
			return gateway.NewResult(gateway.Download{Path: "../../etc/passwd", Size: 4}), nil
		}
		return nil, errors.New("download failed")
	})

	archiver := &recordingArchiver{}
	p := &model.Project{ID: "p1", Name: "Demo", Mode: model.ModeTextToVideo}
	job, _ := newTestJob(t, p, f, Deps{
		Validator: security.NewValidator(root, 1024, 0),
		Archiver:  archiver,
	})
	job.Update(func(prog *model.JobProgress) {
		prog.Videos = []model.ItemResult{
			{Index: 0, Status: model.ItemSubmitted},
			{Index: 1, Status: model.ItemSubmitted},
			{Index: 2, Status: model.ItemSubmitted},
		}
	})

	if err := RunDownload(job); err != nil {
		t.Fatalf("RunDownload failed: %v", err)
	}

	vids := job.Progress().Videos
	if vids[0].Status != model.ItemDownloaded || vids[0].LocalPath != filepath.Join(root, "v0.mp4") {
		t.Errorf("video 0 = %+v, want downloaded", vids[0])
	}
	if vids[1].Status != model.ItemSubmitted || vids[2].Status != model.ItemSubmitted {
		t.Errorf("failed downloads must leave items submitted: %+v", vids[1:])
	}
	if len(archiver.paths) != 1 {
		t.Errorf("archived = %v, want one file", archiver.paths)
	}
}

func TestRunItem_AbortStopsPhase(t *testing.T) {
	f := gateway.NewFake()
	p := &model.Project{ID: "p1", ImagePrompts: []string{"a", "b", "c"}}
	job, _ := newTestJob(t, p, f, Deps{})

	f.On(gateway.ActionAwait, func(ctx context.Context, params gateway.Params) (*gateway.Result, error) {
		job.Token.Abort()
		return nil, ctx.Err()
	})

	err := RunImages(job)
	if !errors.Is(err, control.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if got := f.Count(gateway.ActionEnterPrompt); got != 1 {
		t.Errorf("enter prompt calls = %d, abort should stop after the first item", got)
	}
	if job.Progress().Images[0].Status == model.ItemError {
		t.Error("abort must not mark the item as error")
	}
}

func TestStartIndex(t *testing.T) {
	items := []model.ItemResult{
		{Status: model.ItemReady},
		{Status: model.ItemSubmitted},
		{Status: model.ItemError},
		{Status: model.ItemReady},
	}
	if got := StartIndex(items); got != 2 {
		t.Errorf("StartIndex = %d, want 2", got)
	}
	if got := StartIndex(items[:2]); got != 2 {
		t.Errorf("StartIndex of finished list = %d, want 2", got)
	}
}
