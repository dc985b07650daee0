// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads flowd service configuration.
//
// Configuration is layered, lowest priority first: compiled-in
// defaults, an optional YAML file, and FLOW_* environment variables.
// A partial YAML file overrides only the keys it names; everything
// else keeps its default. A missing file is not an error so the
// daemon starts cleanly in containers that mount no config.
//
// Optional backends (KV, vector, GCS, Influx) are disabled until the
// config names them. The daemon starts without them and the node
// types that need them fail with a configuration error at runtime
// instead of blocking startup.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root of flowd configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Engine    Engine    `yaml:"engine"`
	Sessions  Sessions  `yaml:"sessions"`
	Catalog   Catalog   `yaml:"catalog"`
	LLM       LLM       `yaml:"llm"`
	KV        KV        `yaml:"kv"`
	Vector    Vector    `yaml:"vector"`
	GCS       GCS       `yaml:"gcs"`
	Influx    Influx    `yaml:"influx"`
	Telemetry Telemetry `yaml:"telemetry"`
	Logging   Logging   `yaml:"logging"`
}

// Server configures the HTTP listener and run admission.
type Server struct {
	// Host is the bind address.
	Host string `yaml:"host" validate:"required"`

	// Port is the HTTP listen port.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// MaxConcurrentRuns caps workflow runs admitted at once. Requests
	// beyond the cap receive 503 rather than queueing unboundedly.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" validate:"min=1"`

	// ShutdownGraceSeconds bounds how long shutdown waits for in-flight
	// requests to drain.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" validate:"min=0"`
}

// Addr returns the listen address in host:port form.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ShutdownGrace returns the drain window as a duration.
func (s Server) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

// Engine configures the workflow scheduler and node retry policy.
type Engine struct {
	// Workers caps how many nodes of one run execute in parallel.
	Workers int `yaml:"workers" validate:"min=1"`

	// MaxAttempts bounds executions per node, first try included.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`

	// RetryBaseMillis is the backoff before the first retry; later
	// retries double it.
	RetryBaseMillis int `yaml:"retry_base_millis" validate:"min=0"`

	// CancelOnFailure cancels in-flight siblings as soon as any node
	// fails. Off by default: independent running work finishes.
	CancelOnFailure bool `yaml:"cancel_on_failure"`
}

// RetryBase returns the base backoff as a duration.
func (e Engine) RetryBase() time.Duration {
	return time.Duration(e.RetryBaseMillis) * time.Millisecond
}

// Sessions configures the event bus.
type Sessions struct {
	// QueueSize is the per-session event ring capacity. When full, the
	// oldest non-terminal events drop and a counter records the gap.
	QueueSize int `yaml:"queue_size" validate:"min=1"`

	// RetentionSeconds keeps a finished session readable for late
	// subscribers before the janitor reclaims it.
	RetentionSeconds int `yaml:"retention_seconds" validate:"min=1"`

	// IdleTimeoutSeconds reclaims sessions that never reached a
	// terminal event and have gone quiet.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" validate:"min=1"`
}

// Retention returns the post-terminal retention window.
func (s Sessions) Retention() time.Duration {
	return time.Duration(s.RetentionSeconds) * time.Second
}

// IdleTimeout returns the idle reclamation window.
func (s Sessions) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// Catalog configures the node catalog overlay.
type Catalog struct {
	// Path names an optional YAML file adjusting registered node
	// specs (timeouts, retry flags, descriptions). Empty means the
	// compiled-in specs are used as-is.
	Path string `yaml:"path"`
}

// LLM configures the language model client.
type LLM struct {
	// Model overrides the client's default model name.
	Model string `yaml:"model"`

	// RequestsPerSecond throttles outbound completion calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`

	// Burst is the limiter's burst allowance.
	Burst int `yaml:"burst" validate:"min=1"`
}

// KV configures the embedded key/value store. Disabled unless a path
// is set or in-memory mode is requested.
type KV struct {
	// Path is the BadgerDB directory. A leading ~ expands to the user
	// home.
	Path string `yaml:"path"`

	// InMemory runs the store without disk persistence.
	InMemory bool `yaml:"in_memory"`
}

// Enabled reports whether a store should be opened.
func (k KV) Enabled() bool { return k.InMemory || k.Path != "" }

// Dir returns the store directory with ~ expanded.
func (k KV) Dir() string { return expandPath(k.Path) }

// Vector configures the Weaviate index. Disabled unless a URL is set.
type Vector struct {
	// URL is the Weaviate server, scheme optional ("weaviate:8080").
	URL string `yaml:"url"`

	// Class is the Weaviate class holding indexed chunks.
	Class string `yaml:"class"`

	// Vectorizer is the class's vectorizer module.
	Vectorizer string `yaml:"vectorizer"`

	// TimeoutSeconds bounds each Weaviate operation.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"min=1"`
}

// Enabled reports whether an index should be constructed.
func (v Vector) Enabled() bool { return v.URL != "" }

// Timeout returns the per-operation bound.
func (v Vector) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// GCS configures Cloud Storage uploads. Disabled unless a bucket is
// set.
type GCS struct {
	// Bucket receives gcs_upload node objects.
	Bucket string `yaml:"bucket"`

	// CredentialsFile optionally points at a service account key.
	// Empty uses application default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// Enabled reports whether a client should be constructed.
func (g GCS) Enabled() bool { return g.Bucket != "" }

// Influx configures run metrics export. Disabled unless a URL is set.
type Influx struct {
	// URL is the InfluxDB server.
	URL string `yaml:"url"`

	// Org is the InfluxDB organization.
	Org string `yaml:"org" validate:"required_with=URL"`

	// Bucket receives written points.
	Bucket string `yaml:"bucket" validate:"required_with=URL"`

	// TokenSecret names the secret holding the API token: the
	// uppercased name in the environment or a file under the secrets
	// directory.
	TokenSecret string `yaml:"token_secret"`
}

// Enabled reports whether a write client should be constructed.
func (i Influx) Enabled() bool { return i.URL != "" }

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	// Enabled turns on trace and metric export. Without an endpoint,
	// spans print to stdout for development.
	Enabled bool `yaml:"enabled"`

	// OTLPEndpoint is the collector's gRPC address.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// SampleRatio is the trace sampling fraction.
	SampleRatio float64 `yaml:"sample_ratio" validate:"min=0,max=1"`
}

// Logging configures the process logger.
type Logging struct {
	// Level is the minimum severity: debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables an append-only JSON log file under this directory.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`

	// Quiet disables stderr output entirely.
	Quiet bool `yaml:"quiet"`
}

// Default returns the compiled-in configuration. Values mirror the
// component package defaults so an empty config file and no config
// file behave identically.
func Default() Config {
	return Config{
		Server: Server{
			Host:                 "0.0.0.0",
			Port:                 12210,
			MaxConcurrentRuns:    16,
			ShutdownGraceSeconds: 10,
		},
		Engine: Engine{
			Workers:         8,
			MaxAttempts:     3,
			RetryBaseMillis: 500,
		},
		Sessions: Sessions{
			QueueSize:          1024,
			RetentionSeconds:   120,
			IdleTimeoutSeconds: 300,
		},
		LLM: LLM{
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Vector: Vector{
			Class:          "FlowChunk",
			Vectorizer:     "text2vec-transformers",
			TimeoutSeconds: 10,
		},
		Influx: Influx{
			TokenSecret: "influx_token",
		},
		Telemetry: Telemetry{
			SampleRatio: 1,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Load builds the effective configuration.
//
// Description:
//
//	Starts from Default, overlays the YAML file at path when it
//	exists, applies FLOW_* environment overrides, then validates. A
//	missing file falls back to defaults; an unreadable or malformed
//	file is an error.
//
// Outputs:
//   - Config: The validated effective configuration.
//   - error: Non-nil if the file cannot be parsed or a value is out
//     of range.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(expandPath(path))
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults apply
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnv overlays FLOW_* environment variables. Empty variables are
// treated as unset.
func (c *Config) applyEnv() {
	c.Server.Host = getEnvString("FLOW_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("FLOW_PORT", c.Server.Port)
	c.Server.MaxConcurrentRuns = getEnvInt("FLOW_MAX_CONCURRENT_RUNS", c.Server.MaxConcurrentRuns)
	c.Engine.Workers = getEnvInt("FLOW_WORKERS", c.Engine.Workers)
	c.Catalog.Path = getEnvString("FLOW_CATALOG_PATH", c.Catalog.Path)
	c.LLM.Model = getEnvString("FLOW_LLM_MODEL", c.LLM.Model)

	if path := os.Getenv("FLOW_KV_PATH"); path != "" {
		c.KV.Path = path
		c.KV.InMemory = false
	}

	c.Vector.URL = getEnvString("FLOW_VECTOR_URL", c.Vector.URL)
	c.GCS.Bucket = getEnvString("FLOW_GCS_BUCKET", c.GCS.Bucket)
	c.Influx.URL = getEnvString("FLOW_INFLUX_URL", c.Influx.URL)
	c.Influx.Org = getEnvString("FLOW_INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = getEnvString("FLOW_INFLUX_BUCKET", c.Influx.Bucket)

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.OTLPEndpoint = endpoint
		c.Telemetry.Enabled = true
	}

	c.Logging.Level = getEnvString("FLOW_LOG_LEVEL", c.Logging.Level)
	c.Logging.Dir = getEnvString("FLOW_LOG_DIR", c.Logging.Dir)
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
