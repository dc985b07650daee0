// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load consults so a developer's shell
// cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FLOW_HOST", "FLOW_PORT", "FLOW_MAX_CONCURRENT_RUNS",
		"FLOW_WORKERS", "FLOW_CATALOG_PATH", "FLOW_LLM_MODEL",
		"FLOW_KV_PATH", "FLOW_VECTOR_URL", "FLOW_GCS_BUCKET",
		"FLOW_INFLUX_URL", "FLOW_INFLUX_ORG", "FLOW_INFLUX_BUCKET",
		"FLOW_LOG_LEVEL", "FLOW_LOG_DIR",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestDefault_OptionalBackendsDisabled(t *testing.T) {
	cfg := Default()

	assert.False(t, cfg.KV.Enabled())
	assert.False(t, cfg.Vector.Enabled())
	assert.False(t, cfg.GCS.Enabled())
	assert.False(t, cfg.Influx.Enabled())
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_NoPathUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_PartialFileOverridesOnlyNamedKeys(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9000
  max_concurrent_runs: 4
vector:
  url: http://weaviate:8080
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.MaxConcurrentRuns)
	assert.Equal(t, "http://weaviate:8080", cfg.Vector.URL)
	assert.True(t, cfg.Vector.Enabled())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unnamed keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, "FlowChunk", cfg.Vector.Class)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9000
llm:
  model: gpt-4o
`)
	t.Setenv("FLOW_PORT", "9100")
	t.Setenv("FLOW_LLM_MODEL", "gpt-4o-mini")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoad_KVPathEnvDisablesInMemory(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
kv:
  in_memory: true
`)
	t.Setenv("FLOW_KV_PATH", "/var/lib/flow/kv")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/flow/kv", cfg.KV.Path)
	assert.False(t, cfg.KV.InMemory)
	assert.True(t, cfg.KV.Enabled())
}

func TestLoad_OTLPEndpointEnablesTelemetry(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_MalformedYAMLRejected(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server: [not a mapping")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_OutOfRangeValuesRejected(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"port too large", "server:\n  port: 70000\n"},
		{"zero workers", "engine:\n  workers: 0\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"influx url without org", "influx:\n  url: http://influx:8086\n  org: \"\"\n"},
		{"sample ratio above one", "telemetry:\n  sample_ratio: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestServer_Addr(t *testing.T) {
	s := Server{Host: "127.0.0.1", Port: 12210}
	assert.Equal(t, "127.0.0.1:12210", s.Addr())
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownGrace())
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RetryBase())
	assert.Equal(t, 2*time.Minute, cfg.Sessions.Retention())
	assert.Equal(t, 5*time.Minute, cfg.Sessions.IdleTimeout())
	assert.Equal(t, 10*time.Second, cfg.Vector.Timeout())
}

func TestKV_DirExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	k := KV{Path: "~/.aleutianflow/kv"}
	assert.Equal(t, filepath.Join(home, ".aleutianflow", "kv"), k.Dir())
}
