package processor

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition is a typed processor. In and Out must be JSON-serializable.
type Definition[In, Out any] struct {
	// Slug is the tool identifier the processor is registered under.
	Slug string

	// Handler processes the decoded input.
	Handler func(ctx context.Context, input In) (Out, error)
}

// NewDefinition creates a typed processor definition.
func NewDefinition[In, Out any](slug string, handler func(ctx context.Context, input In) (Out, error)) *Definition[In, Out] {
	return &Definition[In, Out]{Slug: slug, Handler: handler}
}

// Func adapts the definition to the type-erased Func.
func (d *Definition[In, Out]) Func() Func {
	return func(ctx context.Context, raw json.RawMessage) Result {
		var in In
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &in); err != nil {
				return Fail(fmt.Errorf("decode input for %q: %w", d.Slug, err))
			}
		}
		out, err := d.Handler(ctx, in)
		if err != nil {
			return Fail(err)
		}
		return SucceedWith(out)
	}
}
