package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/queue"
)

// envelope is the part of a message that never changes after Send.
type envelope struct {
	ID            string    `msgpack:"id"`
	Queue         string    `msgpack:"queue"`
	JobID         string    `msgpack:"job_id"`
	Priority      int       `msgpack:"priority"`
	MaxDeliveries int       `msgpack:"max_deliveries"`
	CreatedAt     time.Time `msgpack:"created_at"`
}

// messageToMap flattens m into Hash fields. The scalar fields are the ones
// the Lua scripts read or mutate.
func messageToMap(m *queue.Message) (map[string]any, error) {
	body, err := msgpack.Marshal(&envelope{
		ID:            m.ID.String(),
		Queue:         m.Queue,
		JobID:         m.JobID.String(),
		Priority:      m.Priority,
		MaxDeliveries: m.MaxDeliveries,
		CreatedAt:     m.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	var lease int64
	if m.LeaseUntil != nil {
		lease = m.LeaseUntil.UnixMilli()
	}
	return map[string]any{
		"body":           body,
		"queue":          m.Queue,
		"priority":       m.Priority,
		"run_at":         m.RunAt.UnixMilli(),
		"deliveries":     m.Deliveries,
		"max_deliveries": m.MaxDeliveries,
		"lease_until":    lease,
		"last_error":     m.LastError,
	}, nil
}

func mapToMessage(vals map[string]string) (*queue.Message, error) {
	var env envelope
	if err := msgpack.Unmarshal([]byte(vals["body"]), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	msgID, err := id.ParseMessageID(env.ID)
	if err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	jobID, err := id.ParseJobID(env.JobID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}

	deliveries, _ := strconv.Atoi(vals["deliveries"]) //nolint:errcheck // written by this package
	runAt, _ := strconv.ParseInt(vals["run_at"], 10, 64)
	lease, _ := strconv.ParseInt(vals["lease_until"], 10, 64)

	m := &queue.Message{
		ID:            msgID,
		Queue:         env.Queue,
		JobID:         jobID,
		Priority:      env.Priority,
		RunAt:         time.UnixMilli(runAt).UTC(),
		Deliveries:    deliveries,
		MaxDeliveries: env.MaxDeliveries,
		LastError:     vals["last_error"],
		CreatedAt:     env.CreatedAt.UTC(),
	}
	if lease > 0 {
		t := time.UnixMilli(lease).UTC()
		m.LeaseUntil = &t
	}
	return m, nil
}
