// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog document. Deployments ship one to adjust
// timeouts, retry policy, or descriptions of builtin types without a
// rebuild; entries merge over the compiled-in specs by type name.
type File struct {
	Version string  `yaml:"version" validate:"required"`
	Nodes   []Entry `yaml:"nodes" validate:"required,min=1,dive"`
}

// Entry is one node type declaration in a catalog file.
type Entry struct {
	Type        string        `yaml:"type" validate:"required"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Retryable   *bool         `yaml:"retryable"`
	Isolated    *bool         `yaml:"isolated"`
	TimeoutSecs int           `yaml:"timeout_seconds" validate:"gte=0,lte=3600"`
	Params      []ParamEntry  `yaml:"params" validate:"dive"`
	Outputs     []OutputEntry `yaml:"outputs" validate:"dive"`
}

// ParamEntry is one parameter declaration in a catalog file.
type ParamEntry struct {
	Name     string `yaml:"name" validate:"required"`
	Kind     string `yaml:"kind" validate:"required"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default"`
	Opaque   bool   `yaml:"opaque"`
	Doc      string `yaml:"doc"`
}

// OutputEntry is one output declaration in a catalog file.
type OutputEntry struct {
	Name string `yaml:"name" validate:"required"`
	Doc  string `yaml:"doc"`
}

var fileValidator = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a catalog document.
//
// Outputs:
//   - *File: The parsed document.
//   - error: Non-nil on YAML syntax errors, struct validation failures,
//     a non-semver version, or an unknown parameter kind.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := fileValidator.Struct(&f); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	version := f.Version
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return nil, fmt.Errorf("catalog version %q is not semver", f.Version)
	}
	seen := make(map[string]struct{}, len(f.Nodes))
	for _, e := range f.Nodes {
		if _, dup := seen[e.Type]; dup {
			return nil, fmt.Errorf("catalog declares type %q twice", e.Type)
		}
		seen[e.Type] = struct{}{}
		for _, p := range e.Params {
			if !Kind(p.Kind).Valid() {
				return nil, fmt.Errorf("catalog type %q param %q: unknown kind %q", e.Type, p.Name, p.Kind)
			}
		}
	}
	return &f, nil
}

// LoadFile reads and parses a catalog document from disk.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return f, nil
}

// Entry returns the declaration for a type, if the file carries one.
func (f *File) Entry(nodeType string) (Entry, bool) {
	for _, e := range f.Nodes {
		if e.Type == nodeType {
			return e, true
		}
	}
	return Entry{}, false
}

// ApplyFile overlays every entry of a catalog document onto the
// registry. Each entry must name a registered type: the file adjusts
// compiled-in nodes, it cannot conjure executors.
func ApplyFile(reg *Registry, f *File) error {
	for _, e := range f.Nodes {
		base, ok := reg.Spec(e.Type)
		if !ok {
			return fmt.Errorf("%w: catalog file entry %q", ErrUnknownType, e.Type)
		}
		if err := reg.Amend(Merge(base, e)); err != nil {
			return fmt.Errorf("apply catalog entry %q: %w", e.Type, err)
		}
	}
	return nil
}

// Merge overlays a file entry onto a compiled-in spec. Only fields the
// entry actually sets are applied; zero values leave the base alone.
// Parameter and output lists replace wholesale when present, since a
// partial merge of positional schemas is ambiguous.
func Merge(base NodeSpec, e Entry) NodeSpec {
	out := base
	if e.Name != "" {
		out.Name = e.Name
	}
	if e.Description != "" {
		out.Description = e.Description
	}
	if e.Retryable != nil {
		out.Retryable = *e.Retryable
	}
	if e.Isolated != nil {
		out.Isolated = *e.Isolated
	}
	if e.TimeoutSecs > 0 {
		out.Timeout = time.Duration(e.TimeoutSecs) * time.Second
	}
	if len(e.Params) > 0 {
		out.Params = make([]ParamSpec, len(e.Params))
		for i, p := range e.Params {
			out.Params[i] = ParamSpec{
				Name:     p.Name,
				Kind:     Kind(p.Kind),
				Required: p.Required,
				Default:  p.Default,
				Opaque:   p.Opaque,
				Doc:      p.Doc,
			}
		}
	}
	if len(e.Outputs) > 0 {
		out.Outputs = make([]OutputSpec, len(e.Outputs))
		for i, o := range e.Outputs {
			out.Outputs[i] = OutputSpec{Name: o.Name, Doc: o.Doc}
		}
	}
	return out
}
