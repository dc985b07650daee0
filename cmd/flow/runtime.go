// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/nodes"
)

// buildLocalRuntime assembles the offline node registry and scheduler.
// No network backends are wired: node types that need the LLM client,
// vector store, or cloud sinks stay registered so workflows naming
// them still validate, but executing one fails with a configuration
// error.
func buildLocalRuntime(log *slog.Logger) (*catalog.Registry, *engine.Scheduler, error) {
	reg := catalog.NewRegistry()
	if err := nodes.RegisterBuiltins(reg, nodes.Deps{Logger: log}); err != nil {
		return nil, nil, fmt.Errorf("register builtin nodes: %w", err)
	}
	sched, err := engine.New(reg, engine.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("create scheduler: %w", err)
	}
	if err := nodes.RegisterLoop(reg, sched); err != nil {
		return nil, nil, fmt.Errorf("register loop node: %w", err)
	}
	reg.Freeze()
	return reg, sched, nil
}

// cliLogger keeps runtime logging out of the rendered output. Warnings
// and errors still reach stderr.
func cliLogger() *slog.Logger {
	return logging.New(logging.Config{
		Level:   logging.LevelWarn,
		Service: "flow",
	}).Slog()
}
