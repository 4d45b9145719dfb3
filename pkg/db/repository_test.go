package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/model"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "autoboom.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_SaveAndGetProject(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	p := &model.Project{
		ID:               "p1",
		Name:             "Demo",
		Mode:             model.ModeFramesToVideo,
		ImagePrompts:     []string{"a", "b"},
		AnimationPrompts: []string{"a to b"},
		Settings:         model.Settings{AspectRatio: "16:9", MaxRetries: 2},
	}
	if err := repo.SaveProject(ctx, p); err != nil {
		t.Fatalf("failed to save project: %v", err)
	}

	got, err := repo.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("failed to get project: %v", err)
	}
	if got.Name != "Demo" || got.Status != model.ProjectDraft || len(got.ImagePrompts) != 2 {
		t.Errorf("retrieved project mismatch: %+v", got)
	}
	if got.Settings.MaxRetries != 2 {
		t.Errorf("settings not round-tripped: %+v", got.Settings)
	}

	got.Status = model.ProjectRunning
	if err := repo.SaveProject(ctx, got); err != nil {
		t.Fatalf("failed to update project: %v", err)
	}
	again, _ := repo.GetProject(ctx, "p1")
	if again.Status != model.ProjectRunning {
		t.Errorf("status not updated: got %s", again.Status)
	}
}

func TestRepository_GetProjectNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetProject(context.Background(), "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRepository_JobProgress(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	got, err := repo.GetJobProgress(ctx, "p1")
	if err != nil || got != nil {
		t.Fatalf("missing progress should be (nil, nil), got (%v, %v)", got, err)
	}

	prog := model.NewJobProgress("p1")
	prog.State = model.StateImagePhase
	prog.Phase = model.PhaseImage
	prog.Images = []model.ItemResult{{Index: 0, Prompt: "a", Status: model.ItemReady}}
	if err := repo.SaveJobProgress(ctx, prog); err != nil {
		t.Fatalf("failed to save progress: %v", err)
	}

	prog.CurrentIndex = 1
	if err := repo.SaveJobProgress(ctx, prog); err != nil {
		t.Fatalf("failed to overwrite progress: %v", err)
	}

	got, err = repo.GetJobProgress(ctx, "p1")
	if err != nil {
		t.Fatalf("failed to get progress: %v", err)
	}
	if got.CurrentIndex != 1 || got.State != model.StateImagePhase || got.Images[0].Status != model.ItemReady {
		t.Errorf("progress mismatch: %+v", got)
	}
}

func TestRepository_RunRecords(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, outcome := range []model.Outcome{model.OutcomeError, model.OutcomeCompletedWithErrors} {
		rec := &model.RunRecord{
			ID:          []string{"r1", "r2"}[i],
			ProjectID:   "p1",
			Outcome:     outcome,
			ImagesReady: 2,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if err := repo.SaveRunRecord(ctx, rec); err != nil {
			t.Fatalf("failed to save run record: %v", err)
		}
	}

	records, err := repo.ListRunRecords(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(records) != 2 || records[0].ID != "r2" {
		t.Fatalf("records = %+v, want newest first", records)
	}
	if records[0].Outcome != model.OutcomeCompletedWithErrors || records[0].ImagesReady != 2 {
		t.Errorf("record mismatch: %+v", records[0])
	}

	limited, _ := repo.ListRunRecords(ctx, "p1", 1)
	if len(limited) != 1 {
		t.Errorf("limit not applied: %d records", len(limited))
	}
}

func TestRepository_DeleteProject(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	repo.SaveProject(ctx, &model.Project{ID: "p1", Name: "Demo", Mode: model.ModeTextToVideo})
	repo.SaveJobProgress(ctx, model.NewJobProgress("p1"))

	if err := repo.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := repo.GetProject(ctx, "p1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("project still present: %v", err)
	}
	if prog, _ := repo.GetJobProgress(ctx, "p1"); prog != nil {
		t.Error("progress should be deleted with the project")
	}
	if err := repo.DeleteProject(ctx, "p1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestRepository_ListProjects(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	repo.SaveProject(ctx, &model.Project{ID: "p1", Name: "one", Mode: model.ModeCreateImage})
	repo.SaveProject(ctx, &model.Project{ID: "p2", Name: "two", Mode: model.ModeTextToVideo})

	projects, err := repo.ListProjects(ctx)
	if err != nil {
		t.Fatalf("failed to list projects: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("expected 2 projects, got %d", len(projects))
	}
}

func TestRepository_Batches(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	b := &model.Batch{
		ID:      "b1",
		Entries: []model.BatchEntry{{ProjectID: "p1"}, {ProjectID: "p2"}},
	}
	if err := repo.CreateBatch(ctx, b); err != nil {
		t.Fatalf("failed to create batch: %v", err)
	}

	e := b.Entries[1]
	e.Status = model.EntrySkipped
	e.Error = "no prompts"
	if err := repo.UpdateBatchEntry(ctx, "b1", e); err != nil {
		t.Fatalf("failed to update entry: %v", err)
	}
	if err := repo.UpdateBatchStatus(ctx, "b1", model.BatchFinished); err != nil {
		t.Fatalf("failed to update batch: %v", err)
	}

	got, err := repo.GetBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("failed to get batch: %v", err)
	}
	if got.Status != model.BatchFinished || len(got.Entries) != 2 {
		t.Fatalf("batch mismatch: %+v", got)
	}
	if got.Entries[0].Status != model.EntryPending || got.Entries[1].Status != model.EntrySkipped || got.Entries[1].Error != "no prompts" {
		t.Errorf("entries mismatch: %+v", got.Entries)
	}

	if _, err := repo.GetBatch(ctx, "missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
