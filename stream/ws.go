package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ServeWebSocket upgrades the request and writes one JSON text frame per
// event. A normal close frame follows the last event.
func ServeWebSocket(w http.ResponseWriter, r *http.Request, seq *Sequence, keepAlive time.Duration) error {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return fmt.Errorf("toolqueue/stream: websocket upgrade: %w", err)
	}
	defer conn.Close()

	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	closeWith := func(code ws.StatusCode, reason string) error {
		return ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
	}

	steps := pump(ctx, seq)
	for {
		select {
		case <-ctx.Done():
			return closeWith(ws.StatusGoingAway, "")
		case <-ticker.C:
			if err := ws.WriteFrame(conn, ws.NewPingFrame(nil)); err != nil {
				return err
			}
		case s, open := <-steps:
			if !open || errors.Is(s.err, io.EOF) {
				return closeWith(ws.StatusNormalClosure, "")
			}
			if s.err != nil {
				_ = closeWith(ws.StatusInternalServerError, s.err.Error())
				return s.err
			}
			data, err := json.Marshal(s.evt)
			if err != nil {
				return fmt.Errorf("toolqueue/stream: encode event: %w", err)
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return err
			}
		}
	}
}
