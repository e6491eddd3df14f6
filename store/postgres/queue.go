package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/queue"
)

const messageColumns = `id, queue, job_id, priority, run_at, deliveries, max_deliveries,
	lease_until, last_error, created_at`

// Send enqueues a message.
func (s *Store) Send(ctx context.Context, m *queue.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO toolqueue_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID.String(), m.Queue, m.JobID.String(), m.Priority, m.RunAt,
		m.Deliveries, m.MaxDeliveries, m.LeaseUntil, m.LastError, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: send message: %w", err)
	}
	return nil
}

// Fetch leases up to limit visible messages from q. Exhausted messages are
// dead-lettered in the same transaction.
func (s *Store) Fetch(ctx context.Context, q string, limit int, lease time.Duration) ([]*queue.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()
	until := now.Add(lease)

	var out []*queue.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE toolqueue_messages SET dead = TRUE, lease_until = NULL
			WHERE queue = $1 AND NOT dead AND run_at <= $2
			  AND (lease_until IS NULL OR lease_until <= $2)
			  AND deliveries >= max_deliveries`,
			q, now,
		)
		if err != nil {
			return fmt.Errorf("dead-letter: %w", err)
		}

		rows, err := tx.Query(ctx, `
			UPDATE toolqueue_messages SET deliveries = deliveries + 1, lease_until = $3
			WHERE id IN (
				SELECT id FROM toolqueue_messages
				WHERE queue = $1 AND NOT dead AND run_at <= $2
				  AND (lease_until IS NULL OR lease_until <= $2)
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $4
			)
			RETURNING `+messageColumns,
			q, now, until, limit,
		)
		if err != nil {
			return fmt.Errorf("lease: %w", err)
		}
		defer rows.Close()

		out, err = collectMessages(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("toolqueue/postgres: fetch %s: %w", q, err)
	}

	sort.Slice(out, func(i, k int) bool { return queue.Less(out[i], out[k]) })
	return out, nil
}

// Extend pushes a held message's lease forward.
func (s *Store) Extend(ctx context.Context, msgID id.MessageID, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE toolqueue_messages SET lease_until = $2 WHERE id = $1 AND NOT dead`,
		msgID.String(), s.now().Add(lease),
	)
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return toolqueue.ErrMessageNotFound
	}
	return nil
}

// Complete removes a message.
func (s *Store) Complete(ctx context.Context, msgID id.MessageID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM toolqueue_messages WHERE id = $1 AND NOT dead`,
		msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: complete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return toolqueue.ErrMessageNotFound
	}
	return nil
}

// Fail releases a message so it becomes visible again at retryAt.
func (s *Store) Fail(ctx context.Context, msgID id.MessageID, reason string, retryAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE toolqueue_messages SET lease_until = NULL, run_at = $2, last_error = $3
		WHERE id = $1 AND NOT dead`,
		msgID.String(), retryAt, reason,
	)
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: fail message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return toolqueue.ErrMessageNotFound
	}
	return nil
}

// Depth counts the messages of q.
func (s *Store) Depth(ctx context.Context, q string) (queue.Stats, error) {
	st := queue.Stats{Queue: q}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT dead AND (lease_until IS NULL OR lease_until <= $2)),
			COUNT(*) FILTER (WHERE NOT dead AND lease_until > $2),
			COUNT(*) FILTER (WHERE dead)
		FROM toolqueue_messages WHERE queue = $1`,
		q, s.now(),
	).Scan(&st.Ready, &st.Leased, &st.Dead)
	if err != nil {
		return st, fmt.Errorf("toolqueue/postgres: depth %s: %w", q, err)
	}
	return st, nil
}

// DeadLetters returns the dead-lettered messages of q, oldest first.
func (s *Store) DeadLetters(ctx context.Context, q string) ([]*queue.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM toolqueue_messages
		WHERE queue = $1 AND dead
		ORDER BY created_at ASC`,
		q,
	)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/postgres: list dead letters: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]*queue.Message, error) {
	var out []*queue.Message
	for rows.Next() {
		var (
			m          queue.Message
			idStr      string
			jobStr     string
			leaseUntil *time.Time
		)
		if err := rows.Scan(
			&idStr, &m.Queue, &jobStr, &m.Priority, &m.RunAt, &m.Deliveries, &m.MaxDeliveries,
			&leaseUntil, &m.LastError, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgID, err := id.ParseMessageID(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse message id %q: %w", idStr, err)
		}
		jobID, err := id.ParseJobID(jobStr)
		if err != nil {
			return nil, fmt.Errorf("parse job id %q: %w", jobStr, err)
		}
		m.ID = msgID
		m.JobID = jobID
		m.RunAt = m.RunAt.UTC()
		m.CreatedAt = m.CreatedAt.UTC()
		m.LeaseUntil = utc(leaseUntil)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}
