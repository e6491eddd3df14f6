package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays TOOLQUEUE_* variables onto s.
//
//	TOOLQUEUE_STORE_DRIVER       TOOLQUEUE_DSN            TOOLQUEUE_MONGO_DATABASE
//	TOOLQUEUE_QUEUE_URL          TOOLQUEUE_ADDR           TOOLQUEUE_CRON_SECRET
//	TOOLQUEUE_LOG_LEVEL          TOOLQUEUE_LOG_FORMAT     TOOLQUEUE_SWEEP_SCHEDULE
//	TOOLQUEUE_STUCK_THRESHOLD    TOOLQUEUE_STREAM_WAIT    TOOLQUEUE_PROCESSOR_TIMEOUT
//	TOOLQUEUE_MAX_ATTEMPTS       TOOLQUEUE_SWEEP_BATCH_LIMIT  TOOLQUEUE_AUDIT
func ApplyEnv(s *Settings, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("TOOLQUEUE_STORE_DRIVER", &s.Store.Driver)
	str("TOOLQUEUE_DSN", &s.Store.DSN)
	str("TOOLQUEUE_MONGO_DATABASE", &s.Store.Database)
	str("TOOLQUEUE_QUEUE_URL", &s.Store.QueueURL)
	str("TOOLQUEUE_ADDR", &s.Server.Addr)
	str("TOOLQUEUE_CRON_SECRET", &s.Server.CronSecret)
	str("TOOLQUEUE_LOG_LEVEL", &s.Log.Level)
	str("TOOLQUEUE_LOG_FORMAT", &s.Log.Format)
	str("TOOLQUEUE_SWEEP_SCHEDULE", &s.Pipeline.SweepSchedule)

	if v, ok := lookup("TOOLQUEUE_AUDIT"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("toolqueue/config: invalid TOOLQUEUE_AUDIT: %w", err)
		}
		s.Audit.Enabled = b
	}

	durations := map[string]*time.Duration{
		"TOOLQUEUE_STUCK_THRESHOLD":   &s.Pipeline.StuckThreshold,
		"TOOLQUEUE_STREAM_WAIT":       &s.Pipeline.StreamWait,
		"TOOLQUEUE_PROCESSOR_TIMEOUT": &s.Pipeline.ProcessorTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			if err := setDuration(dst, key, v); err != nil {
				return err
			}
		}
	}

	ints := map[string]*int{
		"TOOLQUEUE_MAX_ATTEMPTS":      &s.Pipeline.DefaultMaxAttempts,
		"TOOLQUEUE_SWEEP_BATCH_LIMIT": &s.Pipeline.SweepBatchLimit,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("toolqueue/config: invalid %s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}
