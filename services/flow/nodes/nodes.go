// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nodes carries the built-in node library.
//
// Every executor here is a small function over coerced parameters.
// Reference-resolved values arrive with whatever shape the upstream
// node produced, so executors coerce defensively instead of trusting
// the declared kind.
package nodes

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/kv"
	"github.com/AleutianAI/AleutianFlow/services/flow/llm"
	"github.com/AleutianAI/AleutianFlow/services/flow/secrets"
	"github.com/AleutianAI/AleutianFlow/services/flow/vector"
)

// Deps carries the shared services the built-in nodes close over. Any
// nil dependency disables its nodes with a typed failure rather than
// dropping them from the catalog, so workflows referencing them still
// validate and fail with an explainable error.
type Deps struct {
	// LLM backs the chat node.
	LLM llm.Client

	// KV backs kv_put, kv_get, and kv_delete.
	KV *kv.Store

	// Vector backs index_build and index_query. A nil index degrades
	// to vector.ErrNotConfigured.
	Vector *vector.Index

	// Secrets resolves API keys (web_search).
	Secrets *secrets.Store

	// HTTP is used by http_request and web_search. Nil gets a client
	// with a 30-second timeout.
	HTTP *http.Client

	// FilesRoot is the sandbox directory for file_read and file_write.
	// Empty defaults to a "flow_files" directory under the OS temp dir.
	FilesRoot string

	// GCS backs gcs_upload, writing into GCSBucket.
	GCS       *storage.Client
	GCSBucket string

	// Influx backs influx_write.
	Influx api.WriteAPIBlocking

	// Logger for node-level diagnostics.
	Logger *slog.Logger
}

// RegisterBuiltins registers every built-in node except loop_node,
// which needs the scheduler and is registered by RegisterLoop once the
// scheduler exists.
func RegisterBuiltins(reg *catalog.Registry, deps Deps) error {
	if reg == nil {
		return fmt.Errorf("nil node registry")
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.FilesRoot == "" {
		deps.FilesRoot = defaultFilesRoot()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	regs := []func(*catalog.Registry, Deps) error{
		registerArith,
		registerText,
		registerBasic,
		registerHTTP,
		registerChat,
		registerFiles,
		registerKV,
		registerIndex,
		registerExec,
		registerCloud,
	}
	for _, fn := range regs {
		if err := fn(reg, deps); err != nil {
			return err
		}
	}
	return nil
}

// RegisterLoop registers loop_node over an existing scheduler. Called
// after engine.New because the scheduler itself needs the registry.
func RegisterLoop(reg *catalog.Registry, sched *engine.Scheduler) error {
	return reg.Register(LoopSpec(), engine.NewLoopFactory(sched, reg))
}

// LoopSpec is the catalog entry for loop_node.
func LoopSpec() catalog.NodeSpec {
	return catalog.NodeSpec{
		Type:        "loop_node",
		Name:        "Loop",
		Description: "Runs an embedded workflow once per item of an array. The body references the current item as $loop.item and the position as $loop.index.",
		Params: []catalog.ParamSpec{
			{Name: "array", Kind: catalog.KindAny, Required: true, Doc: "Items to iterate. A scalar iterates once; JSON array text is parsed."},
			{Name: "workflow_json", Kind: catalog.KindAny, Required: true, Opaque: true, Doc: "The loop body workflow document."},
			{Name: "continue_on_error", Kind: catalog.KindBoolean, Default: false, Doc: "Record failed iterations as error entries instead of failing the loop."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "results", Doc: "Per-iteration output snapshots, in order."},
			{Name: "total", Doc: "Number of iterations run."},
			{Name: "success", Doc: "Whether every iteration completed."},
		},
	}
}

func defaultFilesRoot() string {
	return fmt.Sprintf("%s%cflow_files", os.TempDir(), os.PathSeparator)
}

// ===== Parameter helpers =====

// stringParam coerces a required string parameter.
func stringParam(params map[string]any, name string) (string, error) {
	v, err := catalog.Coerce(params[name], catalog.KindString)
	if err != nil {
		return "", catalog.Invalid(fmt.Errorf("param %q: %w", name, err))
	}
	if v == nil {
		return "", catalog.Invalid(fmt.Errorf("param %q: missing value", name))
	}
	return v.(string), nil
}

// optionalString coerces an optional string parameter, returning def
// when absent.
func optionalString(params map[string]any, name, def string) (string, error) {
	if params[name] == nil {
		return def, nil
	}
	return stringParam(params, name)
}

// floatParam coerces a required numeric parameter.
func floatParam(params map[string]any, name string) (float64, error) {
	v, err := catalog.Coerce(params[name], catalog.KindFloat)
	if err != nil {
		return 0, catalog.Invalid(fmt.Errorf("param %q: %w", name, err))
	}
	if v == nil {
		return 0, catalog.Invalid(fmt.Errorf("param %q: missing value", name))
	}
	return v.(float64), nil
}

// optionalFloat coerces an optional numeric parameter, returning def
// when absent.
func optionalFloat(params map[string]any, name string, def float64) (float64, error) {
	if params[name] == nil {
		return def, nil
	}
	return floatParam(params, name)
}

// intParam coerces an optional integer parameter, returning def when
// absent.
func intParam(params map[string]any, name string, def int64) (int64, error) {
	if params[name] == nil {
		return def, nil
	}
	v, err := catalog.Coerce(params[name], catalog.KindInteger)
	if err != nil {
		return 0, catalog.Invalid(fmt.Errorf("param %q: %w", name, err))
	}
	return v.(int64), nil
}

// boolParam coerces an optional boolean parameter, returning def when
// absent.
func boolParam(params map[string]any, name string, def bool) (bool, error) {
	if params[name] == nil {
		return def, nil
	}
	v, err := catalog.Coerce(params[name], catalog.KindBoolean)
	if err != nil {
		return false, catalog.Invalid(fmt.Errorf("param %q: %w", name, err))
	}
	return v.(bool), nil
}

// mappingParam coerces an optional mapping parameter, returning an
// empty map when absent.
func mappingParam(params map[string]any, name string) (map[string]any, error) {
	if params[name] == nil {
		return map[string]any{}, nil
	}
	v, err := catalog.Coerce(params[name], catalog.KindMapping)
	if err != nil {
		return nil, catalog.Invalid(fmt.Errorf("param %q: %w", name, err))
	}
	return v.(map[string]any), nil
}
