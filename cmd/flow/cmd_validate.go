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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

// validateDebounce coalesces editor save bursts into one re-validation.
const validateDebounce = 100 * time.Millisecond

func runValidate(cmd *cobra.Command, args []string) {
	reg, _, err := buildLocalRuntime(cliLogger())
	if err != nil {
		ux.Error(fmt.Sprintf("initialize node catalog: %v", err))
		os.Exit(ExitInvalid)
	}
	if validateWatch {
		if err := watchAndValidate(args[0], reg); err != nil {
			ux.Error(err.Error())
			os.Exit(ExitInvalid)
		}
		os.Exit(ExitOK)
	}
	if err := validateOnce(args[0], reg); err != nil {
		os.Exit(ExitInvalid)
	}
	os.Exit(ExitOK)
}

// validateOnce parses and validates one workflow file and prints the
// outcome. The returned error has already been reported to the user.
func validateOnce(path string, reg *catalog.Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		ux.Error(fmt.Sprintf("read %s: %v", path, err))
		return err
	}
	plan, err := graph.ParseAndValidate(data, reg)
	if err != nil {
		ux.Error(fmt.Sprintf("%s: %v", filepath.Base(path), err))
		return err
	}
	ux.Success(fmt.Sprintf("%s: %d nodes, execution order %s",
		filepath.Base(path), len(plan.Order), strings.Join(plan.Order, ", ")))
	return nil
}

// watchAndValidate re-validates path each time it changes until the
// process is interrupted. The watch is on the parent directory because
// editors replace files on save, which swaps the inode a file-level
// watch would keep following.
func watchAndValidate(path string, reg *catalog.Registry) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	_ = validateOnce(abs, reg)
	ux.Muted(fmt.Sprintf("watching %s, ctrl-c to stop", filepath.Base(abs)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A nil channel blocks forever, so the debounce case only fires
	// while a timer is pending.
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(validateDebounce)
			}
		case <-debounce:
			debounce = nil
			_ = validateOnce(abs, reg)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ux.Warning(fmt.Sprintf("watch error: %v", werr))
		}
	}
}
