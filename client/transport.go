package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/aagnone3/toolqueue/stream"
)

// Transport selects the streaming protocol used by Watch.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "ws"
)

// eventReader yields stream events until io.EOF.
type eventReader interface {
	Next() (stream.Event, error)
	Close() error
}

func (c *Client) openStream(ctx context.Context, jobID string) (eventReader, error) {
	if c.transport == TransportWebSocket {
		return c.openWebSocket(ctx, jobID)
	}
	return c.openSSE(ctx, jobID)
}

// ── Server-Sent Events ──────────────────────────────

type sseReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (c *Client) openSSE(ctx context.Context, jobID string) (eventReader, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/stream", nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/client: open stream: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	return &sseReader{body: resp.Body, scanner: scanner}, nil
}

// Next reads one event block. Comment lines (keepalives) are skipped and
// multi-line data fields are joined with newlines.
func (r *sseReader) Next() (stream.Event, error) {
	var data bytes.Buffer
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var evt stream.Event
			if err := json.Unmarshal(data.Bytes(), &evt); err != nil {
				return stream.Event{}, fmt.Errorf("toolqueue/client: decode event: %w", err)
			}
			return evt, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := r.scanner.Err(); err != nil {
		return stream.Event{}, err
	}
	return stream.Event{}, io.EOF
}

func (r *sseReader) Close() error { return r.body.Close() }

// ── WebSocket ───────────────────────────────────────

type wsReader struct {
	conn net.Conn
	rw   io.ReadWriter
}

func (c *Client) openWebSocket(ctx context.Context, jobID string) (eventReader, error) {
	u := c.url("/v1/jobs/"+url.PathEscape(jobID)+"/ws", nil)
	u = "ws" + strings.TrimPrefix(u, "http")

	header := http.Header{}
	c.authorize(header)
	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(header)}

	conn, br, _, err := dialer.Dial(ctx, u)
	if err != nil {
		var status ws.StatusError
		if errors.As(err, &status) {
			return nil, &APIError{StatusCode: int(status), Message: err.Error()}
		}
		return nil, fmt.Errorf("toolqueue/client: websocket dial: %w", err)
	}

	r := &wsReader{conn: conn, rw: conn}
	if br != nil {
		// Frames written right after the handshake may already be buffered.
		r.rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}
	return r, nil
}

func (r *wsReader) Next() (stream.Event, error) {
	data, err := wsutil.ReadServerText(r.rw)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) && closed.Code == ws.StatusNormalClosure {
			return stream.Event{}, io.EOF
		}
		return stream.Event{}, err
	}
	var evt stream.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return stream.Event{}, fmt.Errorf("toolqueue/client: decode event: %w", err)
	}
	return evt, nil
}

func (r *wsReader) Close() error { return r.conn.Close() }
