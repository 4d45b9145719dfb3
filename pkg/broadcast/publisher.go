// Package broadcast pushes job status on every state change.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/ski11z/autoboom/pkg/model"
)

// SubjectPrefix is prepended to the project id to form the status subject.
const SubjectPrefix = "autoboom.status."

// Publisher receives a status snapshot after every state change.
type Publisher interface {
	Publish(ctx context.Context, status model.Status) error
}

// Nop drops every status.
type Nop struct{}

func (Nop) Publish(context.Context, model.Status) error { return nil }

// NATSPublisher publishes JSON status to autoboom.status.<project_id>.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// Connect dials NATS and returns a publisher owning the connection.
func Connect(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("autoboom"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats_disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats_reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSPublisher(nc), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{
		nc:     nc,
		logger: slog.Default().With("component", "nats_publisher"),
	}
}

// Subject returns the status subject of a project.
func Subject(projectID string) string {
	if projectID == "" {
		projectID = "idle"
	}
	return SubjectPrefix + projectID
}

func (p *NATSPublisher) Publish(ctx context.Context, status model.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := p.nc.Publish(Subject(status.ProjectID), data); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	p.logger.DebugContext(ctx, "status_published",
		"project_id", status.ProjectID,
		"state", status.State,
		"index", status.CurrentIndex,
	)
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

var _ Publisher = (*NATSPublisher)(nil)
