// Package gatewaytest provides an in-memory gateway.Executor for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/queries"
)

// Responder returns the JSON data payload for one call, given the call's
// encoded variables.
type Responder func(vars json.RawMessage) (string, error)

// Call records one executed operation.
type Call struct {
	Operation string
	Vars      json.RawMessage
}

// Fake answers operations by name and records every call it receives.
type Fake struct {
	mu         sync.Mutex
	responders map[string]Responder
	calls      []Call
}

func New() *Fake {
	return &Fake{responders: make(map[string]Responder)}
}

// Handle installs a responder for the named operation.
func (f *Fake) Handle(operation string, r Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responders[operation] = r
}

// Reply makes the named operation always return data.
func (f *Fake) Reply(operation, data string) {
	f.Handle(operation, func(json.RawMessage) (string, error) { return data, nil })
}

// Fail makes the named operation always fail with err.
func (f *Fake) Fail(operation string, err error) {
	f.Handle(operation, func(json.RawMessage) (string, error) { return "", err })
}

func (f *Fake) Execute(_ context.Context, op queries.Operation, vars any, out any) error {
	raw, err := json.Marshal(vars)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Operation: op.Name, Vars: raw})
	responder, ok := f.responders[op.Name]
	f.mu.Unlock()

	if !ok {
		return &gateway.GatewayError{Operation: op.Name, Code: "validation-failed", Message: "no responder for " + op.Name}
	}
	data, err := responder(raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return &gateway.GatewayError{Operation: op.Name, Code: gateway.CodeInvalidResponse, Message: err.Error(), Err: err}
	}
	if v, ok := out.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return &gateway.GatewayError{Operation: op.Name, Code: gateway.CodeInvalidResponse, Message: err.Error(), Err: err}
		}
	}
	return nil
}

// Calls returns the recorded calls of the named operation, or every call
// when operation is empty.
func (f *Fake) Calls(operation string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if operation == "" || c.Operation == operation {
			out = append(out, c)
		}
	}
	return out
}

// DecodeVars unmarshals a recorded call's variables into target.
func (c Call) DecodeVars(target any) error {
	return json.Unmarshal(c.Vars, target)
}
