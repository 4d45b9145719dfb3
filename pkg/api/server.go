// Package api exposes the status and control surface over HTTP.
package api

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ski11z/autoboom/pkg/logging"
	"github.com/ski11z/autoboom/pkg/model"
)

// Controller is the orchestrator surface the API drives.
type Controller interface {
	Start(ctx context.Context, id string) error
	Pause() error
	Resume(ctx context.Context, id string) error
	Stop(ctx context.Context) error
	Status() model.Status
}

// Store is the read side the API lists from.
type Store interface {
	ListProjects(ctx context.Context) ([]*model.Project, error)
	ListRunRecords(ctx context.Context, projectID string, limit int) ([]*model.RunRecord, error)
}

// StopTimeout bounds how long POST /stop waits for the job to unwind.
const StopTimeout = 30 * time.Second

// Server holds the handlers.
type Server struct {
	ctrl  Controller
	store Store
	log   *slog.Logger
}

// New builds the fiber app with every route registered.
func New(ctrl Controller, store Store) *fiber.App {
	s := &Server{ctrl: ctrl, store: store, log: logging.Component("api")}

	app := fiber.New(fiber.Config{
		AppName:               "autoboom",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(s.logRequests)

	app.Get("/status", s.getStatus)
	app.Post("/pause", s.pause)
	app.Post("/stop", s.stop)

	projects := app.Group("/projects")
	projects.Get("/", s.listProjects)
	projects.Post("/:id/start", s.start)
	projects.Post("/:id/resume", s.resume)
	projects.Get("/:id/runs", s.listRuns)

	return app
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()
	s.log.Debug("http_request", "method", c.Method(), "path", c.Path(), "status", c.Response().StatusCode(), "duration", time.Since(started))
	return err
}

// GET /status
func (s *Server) getStatus(c *fiber.Ctx) error {
	return success(c, s.ctrl.Status())
}

// POST /projects/:id/start
func (s *Server) start(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.ctrl.Start(c.UserContext(), id); err != nil {
		s.log.Warn("api_start_failed", "project_id", id, "error", err)
		return fromError(c, err)
	}
	return accepted(c, s.ctrl.Status())
}

// POST /pause
func (s *Server) pause(c *fiber.Ctx) error {
	if err := s.ctrl.Pause(); err != nil {
		return fromError(c, err)
	}
	return success(c, s.ctrl.Status())
}

// POST /projects/:id/resume
func (s *Server) resume(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.ctrl.Resume(c.UserContext(), id); err != nil {
		s.log.Warn("api_resume_failed", "project_id", id, "error", err)
		return fromError(c, err)
	}
	return success(c, s.ctrl.Status())
}

// POST /stop
func (s *Server) stop(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), StopTimeout)
	defer cancel()
	if err := s.ctrl.Stop(ctx); err != nil {
		return fromError(c, err)
	}
	return success(c, s.ctrl.Status())
}

// GET /projects
func (s *Server) listProjects(c *fiber.Ctx) error {
	projects, err := s.store.ListProjects(c.UserContext())
	if err != nil {
		s.log.Error("api_list_projects_failed", "error", err)
		return fromError(c, err)
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	return success(c, projects)
}

// GET /projects/:id/runs?limit=N
func (s *Server) listRuns(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit < 0 {
		return errorResponse(c, fiber.StatusBadRequest, ErrCodeBadRequest, "limit must be a non-negative integer")
	}
	records, err := s.store.ListRunRecords(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		s.log.Error("api_list_runs_failed", "project_id", c.Params("id"), "error", err)
		return fromError(c, err)
	}
	if records == nil {
		records = []*model.RunRecord{}
	}
	return success(c, records)
}
