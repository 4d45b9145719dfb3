// Package gateway is the send-and-await channel to the remote execution
// agent that drives the generation UI. The core only depends on Gateway;
// WSGateway is the websocket implementation and Fake a scriptable one.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoEndpoint means the execution agent could not be reached.
var ErrNoEndpoint = errors.New("gateway: no remote endpoint")

// Remote error codes.
const (
	CodePolicyViolation = "policy_violation"
	CodeTimeout         = "timeout"
	CodeNotFound        = "not_found"
	CodeFailed          = "failed"
)

// Params are the arguments of an action.
type Params map[string]any

// Result is the payload returned by a successful action.
type Result struct {
	Data json.RawMessage
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("gateway: decode result: %w", err)
	}
	return nil
}

// NewResult marshals v into a Result.
func NewResult(v any) *Result {
	b, _ := json.Marshal(v)
	return &Result{Data: b}
}

// Gateway performs one remote action and returns its result. Every action
// is all-or-nothing.
type Gateway interface {
	Dispatch(ctx context.Context, action string, params Params) (*Result, error)
}

// RemoteError is an error reported by the execution agent.
type RemoteError struct {
	Action  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Action, e.Code, e.Message)
}

// IsPolicyViolation reports whether err is a content-policy rejection.
func IsPolicyViolation(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == CodePolicyViolation
}
