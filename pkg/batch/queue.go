package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/logging"
	"github.com/ski11z/autoboom/pkg/model"
	"github.com/superfly/fsm"
)

// DefaultMaxRetries bounds fsm retries of one entry state.
const DefaultMaxRetries = 5

// Queue sequences batch entries through the orchestrator.
type Queue struct {
	store   Store
	runner  Runner
	manager *fsm.Manager
	start   fsm.Start[EntryRequest, EntryResponse]
	log     *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// New registers the entry machine with manager.
func New(ctx context.Context, manager *fsm.Manager, store Store, runner Runner, maxRetries int) (*Queue, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	log := logging.Component("batch")
	m := &machine{store: store, runner: runner, maxRetries: maxRetries, log: log}
	start, err := m.register(ctx, manager)
	if err != nil {
		return nil, err
	}
	return &Queue{store: store, runner: runner, manager: manager, start: start, log: log}, nil
}

// Create persists a pending batch of the given projects in order.
func (q *Queue) Create(ctx context.Context, projectIDs []string) (*model.Batch, error) {
	if len(projectIDs) == 0 {
		return nil, fmt.Errorf("batch needs at least one project")
	}
	seen := make(map[string]bool, len(projectIDs))
	b := &model.Batch{ID: uuid.NewString(), Status: model.BatchPending}
	for _, id := range projectIDs {
		if id == "" {
			return nil, fmt.Errorf("batch contains an empty project id")
		}
		if seen[id] {
			return nil, fmt.Errorf("project %s appears more than once", id)
		}
		seen[id] = true
		b.Entries = append(b.Entries, model.BatchEntry{ProjectID: id})
	}
	if err := q.store.CreateBatch(ctx, b); err != nil {
		return nil, err
	}
	q.log.Info("batch_created", "batch_id", b.ID, "entries", len(b.Entries))
	return b, nil
}

// Run drives every unfinished entry of the batch, one at a time, and
// returns the batch as persisted afterwards. Stop or a cancelled ctx leaves
// the remaining entries pending.
func (q *Queue) Run(ctx context.Context, batchID string) (*model.Batch, error) {
	b, err := q.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.stopped = false
	q.mu.Unlock()

	if err := q.store.UpdateBatchStatus(ctx, batchID, model.BatchRunning); err != nil {
		return nil, err
	}
	q.log.Info("batch_started", "batch_id", batchID, "entries", len(b.Entries))

	final := model.BatchFinished
	for _, e := range b.Entries {
		if e.Status.Terminal() {
			continue
		}
		if q.isStopped() || ctx.Err() != nil {
			final = model.BatchStopped
			break
		}
		if stopped := q.runEntry(ctx, b.ID, e); stopped {
			final = model.BatchStopped
			break
		}
	}

	if err := q.store.UpdateBatchStatus(context.WithoutCancel(ctx), batchID, final); err != nil {
		return nil, err
	}
	q.log.Info("batch_finished", "batch_id", batchID, "status", final)
	return q.store.GetBatch(context.WithoutCancel(ctx), batchID)
}

// runEntry runs one entry and reports whether the batch was stopped.
func (q *Queue) runEntry(ctx context.Context, batchID string, e model.BatchEntry) bool {
	req := &EntryRequest{BatchID: batchID, Position: e.Position, ProjectID: e.ProjectID}
	resp := &EntryResponse{}
	runID := fmt.Sprintf("%s-%s", e.ProjectID, uuid.NewString())

	version, err := q.start(ctx, runID, fsm.NewRequest(req, resp))
	if err == nil {
		q.log.Info("batch_entry_started", "batch_id", batchID, "position", e.Position, "run_id", runID, "version", version)
		err = q.manager.Wait(ctx, version)
	}
	if err != nil {
		if q.isStopped() || ctx.Err() != nil {
			return true
		}
		q.log.Error("batch_entry_failed", "batch_id", batchID, "position", e.Position, "error", err)
		e.Status = model.EntryError
		e.Error = err.Error()
		if err := q.store.UpdateBatchEntry(context.WithoutCancel(ctx), batchID, e); err != nil {
			q.log.Warn("batch_entry_save_failed", "batch_id", batchID, "position", e.Position, "error", err)
		}
		return false
	}
	return resp.Stopped
}

// Stop ends the batch after the current entry and stops its run.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	err := q.runner.Stop(ctx)
	if errors.Is(err, errors.ErrNotActive) {
		return nil
	}
	return err
}

func (q *Queue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}
