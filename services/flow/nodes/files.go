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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

func registerFiles(reg *catalog.Registry, deps Deps) error {
	write := func(ctx context.Context, params map[string]any) (any, error) {
		return runFileWrite(ctx, deps.FilesRoot, params)
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "file_write",
		Name:        "File Write",
		Description: "Writes content to a file under the workflow files directory.",
		Params: []catalog.ParamSpec{
			{Name: "path", Kind: catalog.KindString, Required: true, Doc: "File path relative to the files directory."},
			{Name: "content", Kind: catalog.KindAny, Required: true, Doc: "Content to write. Objects and arrays write as JSON."},
			{Name: "mode", Kind: catalog.KindString, Default: "overwrite", Doc: "Write mode: overwrite or append."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "path", Doc: "Resolved path of the written file."},
			{Name: "bytes_written", Doc: "Number of bytes written."},
		},
	}, catalog.FuncFactory(write)); err != nil {
		return err
	}

	read := func(ctx context.Context, params map[string]any) (any, error) {
		return runFileRead(ctx, deps.FilesRoot, params)
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "file_read",
		Name:        "File Read",
		Description: "Reads a file under the workflow files directory.",
		Params: []catalog.ParamSpec{
			{Name: "path", Kind: catalog.KindString, Required: true, Doc: "File path relative to the files directory."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "content", Doc: "File content as text."},
			{Name: "size", Doc: "Content length in bytes."},
		},
	}, catalog.FuncFactory(read))
}

// sandboxPath resolves a workflow-supplied path under root. Absolute
// paths and any path that climbs out of root are rejected before the
// filesystem is touched.
func sandboxPath(root, raw string) (string, error) {
	cleaned := filepath.Clean(raw)
	if !filepath.IsLocal(cleaned) {
		return "", catalog.Invalid(fmt.Errorf("path %q escapes the files directory", raw))
	}
	return filepath.Join(root, cleaned), nil
}

// contentText renders node content for writing: strings pass through,
// scalars format, and composite values serialize as JSON.
func contentText(value any) (string, error) {
	switch value.(type) {
	case nil:
		return "", nil
	case map[string]any, []any:
		data, err := json.Marshal(value)
		if err != nil {
			return "", catalog.Invalid(fmt.Errorf("param \"content\": %w", err))
		}
		return string(data), nil
	}
	coerced, err := catalog.Coerce(value, catalog.KindString)
	if err != nil {
		return "", catalog.Invalid(fmt.Errorf("param \"content\": %w", err))
	}
	return coerced.(string), nil
}

func runFileWrite(ctx context.Context, root string, params map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := stringParam(params, "path")
	if err != nil {
		return nil, err
	}
	path, err := sandboxPath(root, raw)
	if err != nil {
		return nil, err
	}
	content, err := contentText(params["content"])
	if err != nil {
		return nil, err
	}
	mode, err := optionalString(params, "mode", "overwrite")
	if err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	switch mode {
	case "overwrite":
		flags |= os.O_TRUNC
	case "append":
		flags |= os.O_APPEND
	default:
		return nil, catalog.Invalid(fmt.Errorf("param \"mode\": %q is not overwrite or append", mode))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, catalog.Permanent(fmt.Errorf("create directory for %q: %w", raw, err))
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, catalog.Permanent(fmt.Errorf("open %q: %w", raw, err))
	}
	n, err := f.WriteString(content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, catalog.Permanent(fmt.Errorf("write %q: %w", raw, err))
	}
	return map[string]any{"path": path, "bytes_written": n}, nil
}

func runFileRead(ctx context.Context, root string, params map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := stringParam(params, "path")
	if err != nil {
		return nil, err
	}
	path, err := sandboxPath(root, raw)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, catalog.Permanent(fmt.Errorf("read %q: %w", raw, err))
	}
	return map[string]any{"content": string(data), "size": len(data)}, nil
}
