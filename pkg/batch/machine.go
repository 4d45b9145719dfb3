// Package batch runs an ordered queue of projects one at a time. Each entry
// is a durable superfly/fsm run (load, run, finalize) persisted in bbolt, so
// an interrupted batch can be inspected and re-run from its first unfinished
// entry.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/model"
	"github.com/ski11z/autoboom/pkg/orchestrator"
	"github.com/superfly/fsm"
)

// Entry run states.
const (
	StateLoad     = "load"
	StateRun      = "run"
	StateFinalize = "finalize"
	StateFailed   = "failed"
)

// EntryRequest is the fsm input for one batch entry.
type EntryRequest struct {
	BatchID   string
	Position  int
	ProjectID string
}

// EntryResponse accumulates across the entry's states.
type EntryResponse struct {
	Status  model.EntryStatus
	Outcome model.Outcome
	RunID   string
	Error   string
	Stopped bool
}

// Store is the persistence a batch needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	CreateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	UpdateBatchStatus(ctx context.Context, id string, status model.BatchStatus) error
	UpdateBatchEntry(ctx context.Context, batchID string, e model.BatchEntry) error
}

// Runner runs one project to completion.
type Runner interface {
	Run(ctx context.Context, id string) (orchestrator.Result, error)
	Stop(ctx context.Context) error
}

// machine holds the dependencies of the entry handlers.
type machine struct {
	store      Store
	runner     Runner
	maxRetries int
	log        *slog.Logger
}

func (m *machine) register(ctx context.Context, manager *fsm.Manager) (fsm.Start[EntryRequest, EntryResponse], error) {
	start, _, err := fsm.Register[EntryRequest, EntryResponse](manager, "batch-entry").
		Start(StateLoad, m.handleLoad).
		To(StateRun, m.handleRun).
		To(StateFinalize, m.handleFinalize).
		End(StateFailed).
		Build(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register batch fsm")
	}
	return start, nil
}

func (m *machine) checkRetries(ctx context.Context, req *EntryRequest) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		m.log.Error("max_retries_exceeded", "batch_id", req.BatchID, "project_id", req.ProjectID, "max_retries", m.maxRetries)
		return fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}
	return nil
}

func (m *machine) saveEntry(ctx context.Context, req *EntryRequest, resp *EntryResponse) error {
	return m.store.UpdateBatchEntry(ctx, req.BatchID, model.BatchEntry{
		Position:  req.Position,
		ProjectID: req.ProjectID,
		Status:    resp.Status,
		Error:     resp.Error,
		RunID:     resp.RunID,
	})
}

// handleLoad checks the project still exists and marks the entry running.
func (m *machine) handleLoad(ctx context.Context, req *fsm.Request[EntryRequest, EntryResponse]) (*fsm.Response[EntryResponse], error) {
	m.log.Info("batch_state_load", "batch_id", req.Msg.BatchID, "position", req.Msg.Position, "project_id", req.Msg.ProjectID)

	if err := m.checkRetries(ctx, req.Msg); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &EntryResponse{}
	}

	_, err := m.store.GetProject(ctx, req.Msg.ProjectID)
	if errors.Is(err, errors.ErrNotFound) {
		m.log.Warn("batch_project_missing", "batch_id", req.Msg.BatchID, "project_id", req.Msg.ProjectID)
		resp.Status = model.EntrySkipped
		resp.Error = err.Error()
		return fsm.NewResponse(resp), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load project")
	}

	resp.Status = model.EntryRunning
	if err := m.saveEntry(ctx, req.Msg, resp); err != nil {
		return nil, errors.Wrap(err, "failed to mark entry running")
	}
	return fsm.NewResponse(resp), nil
}

// handleRun drives the project through the orchestrator. Run failures are
// entry outcomes, not fsm errors; only a busy orchestrator is retried.
func (m *machine) handleRun(ctx context.Context, req *fsm.Request[EntryRequest, EntryResponse]) (*fsm.Response[EntryResponse], error) {
	if err := m.checkRetries(ctx, req.Msg); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.Status.Terminal() {
		return fsm.NewResponse(resp), nil
	}

	m.log.Info("batch_state_run", "batch_id", req.Msg.BatchID, "position", req.Msg.Position, "project_id", req.Msg.ProjectID)
	res, err := m.runner.Run(ctx, req.Msg.ProjectID)
	applyResult(resp, res, err)
	if errors.Is(err, errors.ErrAlreadyRunning) {
		m.log.Warn("batch_runner_busy", "batch_id", req.Msg.BatchID, "project_id", req.Msg.ProjectID)
		return nil, err
	}

	m.log.Info("batch_entry_ran", "batch_id", req.Msg.BatchID, "project_id", req.Msg.ProjectID, "status", resp.Status, "stopped", resp.Stopped)
	return fsm.NewResponse(resp), nil
}

// handleFinalize persists the entry's terminal status.
func (m *machine) handleFinalize(ctx context.Context, req *fsm.Request[EntryRequest, EntryResponse]) (*fsm.Response[EntryResponse], error) {
	if err := m.checkRetries(ctx, req.Msg); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.saveEntry(ctx, req.Msg, resp); err != nil {
		return nil, errors.Wrap(err, "failed to save entry")
	}

	m.log.Info("batch_entry_complete", "batch_id", req.Msg.BatchID, "position", req.Msg.Position, "status", resp.Status)
	return fsm.NewResponse(resp), nil
}

// applyResult maps a run onto the entry. A stopped run puts the entry back
// to pending so the batch can pick it up again.
func applyResult(resp *EntryResponse, res orchestrator.Result, err error) {
	switch {
	case errors.IsPrecondition(err):
		resp.Status = model.EntrySkipped
		resp.Error = err.Error()
	case errors.Is(err, errors.ErrAlreadyRunning):
		resp.Status = model.EntryRunning
		resp.Error = err.Error()
	case err != nil:
		resp.Status = model.EntryError
		resp.Error = err.Error()
	case res.Aborted:
		resp.Status = model.EntryPending
		resp.Stopped = true
	default:
		resp.Status = model.EntryStatusFor(res.Outcome)
		resp.Outcome = res.Outcome
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		if res.Record != nil {
			resp.RunID = res.Record.ID
		}
	}
}
