package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/aagnone3/toolqueue"
)

var defaultFilenames = []string{
	"toolqueue.yaml",
	"toolqueue.yml",
	"toolqueue.toml",
	".toolqueue.yaml",
	".toolqueue.yml",
	".toolqueue.toml",
}

// File is the on-disk schema. Durations are strings in time.ParseDuration
// syntax; pointer fields distinguish "unset" from zero.
type File struct {
	Store    StoreFile    `yaml:"store" toml:"store"`
	Server   ServerFile   `yaml:"server" toml:"server"`
	Log      LogFile      `yaml:"log" toml:"log"`
	Pipeline PipelineFile `yaml:"pipeline" toml:"pipeline"`
	Queues   []QueueFile  `yaml:"queues" toml:"queues"`
	Audit    AuditFile    `yaml:"audit" toml:"audit"`
}

type StoreFile struct {
	Driver   string `yaml:"driver" toml:"driver"`
	DSN      string `yaml:"dsn" toml:"dsn"`
	Database string `yaml:"database" toml:"database"`
	QueueURL string `yaml:"queue_url" toml:"queue_url"`
}

type ServerFile struct {
	Addr        string `yaml:"addr" toml:"addr"`
	CronSecret  string `yaml:"cron_secret" toml:"cron_secret"`
	KeepAlive   string `yaml:"keep_alive" toml:"keep_alive"`
	MetricsPath string `yaml:"metrics_path" toml:"metrics_path"`
}

type LogFile struct {
	Level     string   `yaml:"level" toml:"level"`
	Format    string   `yaml:"format" toml:"format"`
	Redact    []string `yaml:"redact" toml:"redact"`
	AddSource *bool    `yaml:"add_source" toml:"add_source"`
}

type AuditFile struct {
	Enabled *bool    `yaml:"enabled" toml:"enabled"`
	Actions []string `yaml:"actions" toml:"actions"`
}

type PipelineFile struct {
	DefaultQueue       string `yaml:"default_queue" toml:"default_queue"`
	DefaultMaxAttempts *int   `yaml:"default_max_attempts" toml:"default_max_attempts"`
	JobTTL             string `yaml:"job_ttl" toml:"job_ttl"`
	ProcessorTimeout   string `yaml:"processor_timeout" toml:"processor_timeout"`
	MaxDeliveries      *int   `yaml:"max_deliveries" toml:"max_deliveries"`
	StuckThreshold     string `yaml:"stuck_threshold" toml:"stuck_threshold"`
	SweepBatchLimit    *int   `yaml:"sweep_batch_limit" toml:"sweep_batch_limit"`
	SweepSchedule      string `yaml:"sweep_schedule" toml:"sweep_schedule"`
	RetryBatchLimit    *int   `yaml:"retry_batch_limit" toml:"retry_batch_limit"`
	StreamWait         string `yaml:"stream_wait" toml:"stream_wait"`
	StreamPollInterval string `yaml:"stream_poll_interval" toml:"stream_poll_interval"`
	ShutdownTimeout    string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type QueueFile struct {
	Name            string   `yaml:"name" toml:"name"`
	ToolSlugs       []string `yaml:"tool_slugs" toml:"tool_slugs"`
	BatchSize       *int     `yaml:"batch_size" toml:"batch_size"`
	PollingInterval string   `yaml:"polling_interval" toml:"polling_interval"`
	Concurrency     *int     `yaml:"concurrency" toml:"concurrency"`
	Lease           string   `yaml:"lease" toml:"lease"`
	RateLimit       *float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst       *int     `yaml:"rate_burst" toml:"rate_burst"`
}

// ResolvePath returns TOOLQUEUE_CONFIG or the first default config file
// present in the working directory, or "" when there is none.
func ResolvePath() string {
	if env := os.Getenv("TOOLQUEUE_CONFIG"); env != "" {
		return env
	}
	for _, name := range defaultFilenames {
		if fileExists(name) {
			return name
		}
	}
	return ""
}

// LoadFile parses a YAML or TOML file, chosen by extension.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/config: read config file: %w", err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("toolqueue/config: parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("toolqueue/config: parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("toolqueue/config: unsupported config extension %q", filepath.Ext(path))
	}
	return &f, nil
}

// Apply overlays every field set in f onto s.
func (f *File) Apply(s *Settings) error {
	if f == nil {
		return nil
	}

	setString(&s.Store.Driver, f.Store.Driver)
	setString(&s.Store.DSN, f.Store.DSN)
	setString(&s.Store.Database, f.Store.Database)
	setString(&s.Store.QueueURL, f.Store.QueueURL)

	setString(&s.Server.Addr, f.Server.Addr)
	setString(&s.Server.CronSecret, f.Server.CronSecret)
	setString(&s.Server.MetricsPath, f.Server.MetricsPath)
	if err := setDuration(&s.Server.KeepAlive, "server.keep_alive", f.Server.KeepAlive); err != nil {
		return err
	}

	setString(&s.Log.Level, f.Log.Level)
	setString(&s.Log.Format, f.Log.Format)
	if f.Log.Redact != nil {
		s.Log.Redact = append([]string{}, f.Log.Redact...)
	}
	if f.Log.AddSource != nil {
		s.Log.AddSource = *f.Log.AddSource
	}

	if f.Audit.Enabled != nil {
		s.Audit.Enabled = *f.Audit.Enabled
	}
	if f.Audit.Actions != nil {
		s.Audit.Actions = append([]string{}, f.Audit.Actions...)
	}

	if err := f.Pipeline.apply(&s.Pipeline); err != nil {
		return err
	}

	if len(f.Queues) > 0 {
		queues := make([]toolqueue.QueueConfig, 0, len(f.Queues))
		for i, qf := range f.Queues {
			qc, err := qf.queueConfig(i)
			if err != nil {
				return err
			}
			queues = append(queues, qc)
		}
		s.Pipeline.Queues = queues
	}
	return nil
}

func (p PipelineFile) apply(c *toolqueue.Config) error {
	setString(&c.DefaultQueue, p.DefaultQueue)
	setString(&c.SweepSchedule, p.SweepSchedule)
	setInt(&c.DefaultMaxAttempts, p.DefaultMaxAttempts)
	setInt(&c.MaxDeliveries, p.MaxDeliveries)
	setInt(&c.SweepBatchLimit, p.SweepBatchLimit)
	setInt(&c.RetryBatchLimit, p.RetryBatchLimit)

	durations := []struct {
		dst   *time.Duration
		field string
		value string
	}{
		{&c.JobTTL, "pipeline.job_ttl", p.JobTTL},
		{&c.ProcessorTimeout, "pipeline.processor_timeout", p.ProcessorTimeout},
		{&c.StuckThreshold, "pipeline.stuck_threshold", p.StuckThreshold},
		{&c.StreamWait, "pipeline.stream_wait", p.StreamWait},
		{&c.StreamPollInterval, "pipeline.stream_poll_interval", p.StreamPollInterval},
		{&c.ShutdownTimeout, "pipeline.shutdown_timeout", p.ShutdownTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.field, d.value); err != nil {
			return err
		}
	}
	return nil
}

func (q QueueFile) queueConfig(i int) (toolqueue.QueueConfig, error) {
	if q.Name == "" {
		return toolqueue.QueueConfig{}, fmt.Errorf("toolqueue/config: queues[%d].name is required", i)
	}
	qc := toolqueue.DefaultQueueConfig(q.Name)
	qc.ToolSlugs = append([]string(nil), q.ToolSlugs...)
	setInt(&qc.BatchSize, q.BatchSize)
	setInt(&qc.Concurrency, q.Concurrency)
	setInt(&qc.RateBurst, q.RateBurst)
	if q.RateLimit != nil {
		qc.RateLimit = *q.RateLimit
	}
	prefix := fmt.Sprintf("queues[%d]", i)
	if err := setDuration(&qc.PollingInterval, prefix+".polling_interval", q.PollingInterval); err != nil {
		return qc, err
	}
	if err := setDuration(&qc.Lease, prefix+".lease", q.Lease); err != nil {
		return qc, err
	}
	return qc, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("toolqueue/config: invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}
