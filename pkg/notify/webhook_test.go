package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ski11z/autoboom/pkg/model"
)

func TestWebhook_PolicyViolationPayload(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := &model.Project{ID: "p1", Name: "Demo"}
	if err := NewWebhook(srv.URL).NotifyPolicyViolation(context.Background(), p, 2, "orig", "new", true); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if got.Event != EventPolicyViolation || got.ProjectID != "p1" {
		t.Errorf("unexpected payload: %+v", got)
	}
	if got.ItemIndex == nil || *got.ItemIndex != 2 || got.Recovered == nil || !*got.Recovered {
		t.Errorf("item fields missing: %+v", got)
	}
}

func TestWebhook_ServerErrorReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := &model.Project{ID: "p1"}
	if err := NewWebhook(srv.URL).NotifyError(context.Background(), p, nil, "boom"); err == nil {
		t.Error("expected error for 502 response")
	}
}

type failing struct{ Nop }

func (failing) NotifyCompleted(context.Context, *model.Project, *model.JobProgress) error {
	return errors.New("down")
}

func TestMulti_JoinsErrors(t *testing.T) {
	m := Multi{Nop{}, failing{}}
	if err := m.NotifyCompleted(context.Background(), &model.Project{}, nil); err == nil {
		t.Error("expected joined error")
	}
	if err := m.NotifyError(context.Background(), &model.Project{}, nil, "x"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLog_WritesEvents(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	p := &model.Project{ID: "p1", Status: model.ProjectCompleted}

	m := Multi{l, Nop{}}
	if err := m.NotifyCompleted(context.Background(), p, &model.JobProgress{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.NotifyPolicyViolation(context.Background(), p, 2, "before", "after", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"notify_completed"`, `"msg":"notify_policy_violation"`, `"rewritten_prompt":"after"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}
