package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultKeepAlive is the interval between keepalive writes on idle
// connections.
const DefaultKeepAlive = 15 * time.Second

type step struct {
	evt Event
	err error
}

// pump moves Next calls onto a goroutine so writers can interleave
// keepalives. The channel closes after the first error, io.EOF included.
func pump(ctx context.Context, seq *Sequence) <-chan step {
	ch := make(chan step)
	go func() {
		defer close(ch)
		for {
			evt, err := seq.Next(ctx)
			select {
			case ch <- step{evt: evt, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// ServeSSE writes seq to w as Server-Sent Events until the sequence ends,
// the client goes away or a write fails. Each event is written as
// "event: <type>" with the JSON-encoded Event as data.
func ServeSSE(w http.ResponseWriter, r *http.Request, seq *Sequence, keepAlive time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("toolqueue/stream: response writer does not support flushing")
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	steps := pump(ctx, seq)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case s, open := <-steps:
			if !open || errors.Is(s.err, io.EOF) {
				return nil
			}
			if s.err != nil {
				return s.err
			}
			if err := writeSSE(w, s.evt); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("toolqueue/stream: encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}
