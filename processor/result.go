package processor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result is the explicit outcome of a processor invocation.
type Result struct {
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Succeed returns a successful Result carrying output as-is.
func Succeed(output json.RawMessage) Result {
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	return Result{Success: true, Output: output}
}

// SucceedWith encodes v as the output. An encoding error becomes a failure.
func SucceedWith(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return Fail(fmt.Errorf("encode output: %w", err))
	}
	return Succeed(data)
}

// Fail returns a failed Result describing err.
func Fail(err error) Result {
	if err == nil {
		err = errors.New("processor failed")
	}
	return Result{Error: err.Error()}
}

// Failf returns a failed Result with a formatted message.
func Failf(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Err returns nil for a successful result and an error otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("processor failed")
	}
	return errors.New(r.Error)
}
