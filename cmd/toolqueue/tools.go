package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aagnone3/toolqueue/processor"
)

type sleepInput struct {
	Millis int `json:"ms"`
}

type sleepOutput struct {
	Slept string `json:"slept"`
}

type failInput struct {
	Message string `json:"message"`
}

// builtinTools registers the tools every binary ships with, for smoke
// tests and demos. Real deployments embed the engine and register their
// own processors.
func builtinTools() *processor.Registry {
	r := processor.NewRegistry()

	r.MustRegister("echo", func(_ context.Context, in json.RawMessage) processor.Result {
		return processor.Succeed(in)
	})

	_ = processor.RegisterDefinition(r, processor.NewDefinition("sleep",
		func(ctx context.Context, in sleepInput) (sleepOutput, error) {
			d := time.Duration(in.Millis) * time.Millisecond
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return sleepOutput{}, ctx.Err()
			case <-t.C:
				return sleepOutput{Slept: d.String()}, nil
			}
		}))

	_ = processor.RegisterDefinition(r, processor.NewDefinition("fail",
		func(_ context.Context, in failInput) (struct{}, error) {
			if in.Message == "" {
				in.Message = "failed on purpose"
			}
			return struct{}{}, errors.New(in.Message)
		}))

	return r
}
