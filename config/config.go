// Package config loads toolqueue settings from a YAML or TOML file and
// TOOLQUEUE_* environment variables.
//
// Precedence, lowest first: defaults, file, environment, command-line
// flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/aagnone3/toolqueue"
	audithook "github.com/aagnone3/toolqueue/audit_hook"
	"github.com/aagnone3/toolqueue/logging"
)

// Job store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// StoreSettings selects and addresses the job store.
type StoreSettings struct {
	// Driver is memory, postgres or mongo.
	Driver string
	// DSN is the connection URL of the driver.
	DSN string
	// Database names the Mongo database.
	Database string
	// QueueURL optionally points the queue engine, sweep lock and notifier
	// at a Redis server ("redis://host:6379/0") while jobs live in the store.
	QueueURL string
}

// ServerSettings configures the HTTP server.
type ServerSettings struct {
	Addr        string
	CronSecret  string
	KeepAlive   time.Duration
	MetricsPath string
}

// AuditSettings turns on the audit log of job lifecycle events.
type AuditSettings struct {
	Enabled bool
	// Actions limits the audit log to these actions. Empty means all.
	Actions []string
}

// Settings is everything a toolqueue process needs.
type Settings struct {
	Pipeline toolqueue.Config
	Store    StoreSettings
	Server   ServerSettings
	Log      logging.Config
	Audit    AuditSettings
}

// Default returns settings for a single in-memory process.
func Default() Settings {
	return Settings{
		Pipeline: toolqueue.DefaultConfig(),
		Store:    StoreSettings{Driver: DriverMemory, Database: "toolqueue"},
		Server: ServerSettings{
			Addr:        ":8080",
			KeepAlive:   15 * time.Second,
			MetricsPath: "/metrics",
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

// Load reads an optional .env file, the config file at path (or the one
// ResolvePath finds) and the environment, then validates the result.
func Load(path string) (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("toolqueue/config: load .env: %w", err)
	}

	s := Default()
	if path == "" {
		path = ResolvePath()
	}
	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return Settings{}, err
		}
		if err := f.Apply(&s); err != nil {
			return Settings{}, err
		}
	}
	if err := ApplyEnv(&s, os.LookupEnv); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports settings no component could run with.
func (s Settings) Validate() error {
	switch s.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverMongo:
		if s.Store.DSN == "" {
			return fmt.Errorf("toolqueue/config: store.dsn is required for %s", s.Store.Driver)
		}
	default:
		return fmt.Errorf("toolqueue/config: unknown store driver %q", s.Store.Driver)
	}

	p := s.Pipeline
	if len(p.Queues) == 0 {
		return errors.New("toolqueue/config: at least one queue is required")
	}
	seen := make(map[string]bool, len(p.Queues))
	for _, q := range p.Queues {
		if q.Name == "" {
			return errors.New("toolqueue/config: queue name is required")
		}
		if seen[q.Name] {
			return fmt.Errorf("toolqueue/config: duplicate queue %q", q.Name)
		}
		seen[q.Name] = true
	}
	if !p.HasQueue(p.DefaultQueue) {
		return fmt.Errorf("toolqueue/config: default queue %q is not configured", p.DefaultQueue)
	}
	if p.DefaultMaxAttempts < 1 {
		return errors.New("toolqueue/config: default max attempts must be at least 1")
	}
	if p.SweepBatchLimit < 1 {
		return errors.New("toolqueue/config: sweep batch limit must be at least 1")
	}
	if p.StreamWait <= 0 || p.StreamPollInterval <= 0 {
		return errors.New("toolqueue/config: stream wait and poll interval must be positive")
	}
	for _, a := range s.Audit.Actions {
		if !knownAuditAction(a) {
			return fmt.Errorf("toolqueue/config: unknown audit action %q", a)
		}
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		return err
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func knownAuditAction(a string) bool {
	for _, known := range audithook.AllActions() {
		if a == known {
			return true
		}
	}
	return false
}
