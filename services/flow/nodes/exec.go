// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

// waitDelay bounds how long Wait blocks on straggling pipe readers
// after the process group has been killed.
const waitDelay = 2 * time.Second

func registerExec(reg *catalog.Registry, deps Deps) error {
	terminal := func(ctx context.Context, params map[string]any) (any, error) {
		command, err := stringParam(params, "command")
		if err != nil {
			return nil, err
		}
		return runCommand(ctx, "/bin/sh", "-c", command)
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "terminal",
		Name:        "Terminal",
		Description: "Runs a shell command and captures its output. A non-zero exit reports through exit_code, not as a node failure.",
		Params: []catalog.ParamSpec{
			{Name: "command", Kind: catalog.KindString, Required: true, Doc: "Shell command line."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "stdout", Doc: "Captured standard output."},
			{Name: "stderr", Doc: "Captured standard error."},
			{Name: "exit_code", Doc: "Process exit code."},
			{Name: "success", Doc: "True when the exit code is zero."},
		},
		Isolated: true,
	}, catalog.FuncFactory(terminal)); err != nil {
		return err
	}

	python := func(ctx context.Context, params map[string]any) (any, error) {
		code, err := stringParam(params, "code")
		if err != nil {
			return nil, err
		}
		return runCommand(ctx, "python3", "-c", code)
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "python_execute",
		Name:        "Python Execute",
		Description: "Runs a Python snippet and captures its output. A non-zero exit reports through exit_code, not as a node failure.",
		Params: []catalog.ParamSpec{
			{Name: "code", Kind: catalog.KindString, Required: true, Doc: "Python source to run."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "stdout", Doc: "Captured standard output."},
			{Name: "stderr", Doc: "Captured standard error."},
			{Name: "exit_code", Doc: "Interpreter exit code."},
			{Name: "success", Doc: "True when the exit code is zero."},
		},
		Isolated: true,
	}, catalog.FuncFactory(python))
}

// runCommand executes one process in its own process group so a
// deadline kills the whole tree, not just the leader. Shell one-liners
// that spawn children would otherwise outlive their node.
func runCommand(ctx context.Context, name string, args ...string) (any, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, catalog.Permanent(fmt.Errorf("start %s: %w", name, err))
		}
		exitCode = exitErr.ExitCode()
	}
	return map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
		"success":   exitCode == 0,
	}, nil
}
