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
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

// placeholderPattern matches {name} slots in template text.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

func registerText(reg *catalog.Registry, _ Deps) error {
	concat := func(ctx context.Context, params map[string]any) (any, error) {
		text1, err := stringParam(params, "text1")
		if err != nil {
			return nil, err
		}
		text2, err := stringParam(params, "text2")
		if err != nil {
			return nil, err
		}
		sep, err := optionalString(params, "separator", "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": text1 + sep + text2}, nil
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "text_concat",
		Name:        "Text Concat",
		Description: "Joins two pieces of text with an optional separator.",
		Params: []catalog.ParamSpec{
			{Name: "text1", Kind: catalog.KindString, Required: true, Doc: "Left text."},
			{Name: "text2", Kind: catalog.KindString, Required: true, Doc: "Right text."},
			{Name: "separator", Kind: catalog.KindString, Default: "", Doc: "Inserted between the texts."},
		},
		Outputs: []catalog.OutputSpec{{Name: "result", Doc: "The joined text."}},
	}, catalog.FuncFactory(concat)); err != nil {
		return err
	}

	replace := func(ctx context.Context, params map[string]any) (any, error) {
		text, err := stringParam(params, "text")
		if err != nil {
			return nil, err
		}
		oldStr, err := stringParam(params, "old_str")
		if err != nil {
			return nil, err
		}
		newStr, err := optionalString(params, "new_str", "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": strings.ReplaceAll(text, oldStr, newStr)}, nil
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "text_replace",
		Name:        "Text Replace",
		Description: "Replaces every occurrence of a substring.",
		Params: []catalog.ParamSpec{
			{Name: "text", Kind: catalog.KindString, Required: true, Doc: "Text to edit."},
			{Name: "old_str", Kind: catalog.KindString, Required: true, Doc: "Substring to replace."},
			{Name: "new_str", Kind: catalog.KindString, Default: "", Doc: "Replacement text."},
		},
		Outputs: []catalog.OutputSpec{{Name: "result", Doc: "The edited text."}},
	}, catalog.FuncFactory(replace)); err != nil {
		return err
	}

	template := func(ctx context.Context, params map[string]any) (any, error) {
		text, err := stringParam(params, "template")
		if err != nil {
			return nil, err
		}
		values, err := mappingParam(params, "values")
		if err != nil {
			return nil, err
		}

		var missing []string
		result := placeholderPattern.ReplaceAllStringFunc(text, func(slot string) string {
			name := slot[1 : len(slot)-1]
			value, ok := values[name]
			if !ok {
				missing = append(missing, name)
				return slot
			}
			return renderValue(value)
		})
		if len(missing) > 0 {
			return nil, catalog.Invalid(fmt.Errorf("unresolved placeholders: %s", strings.Join(missing, ", ")))
		}
		return map[string]any{"result": result}, nil
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "template",
		Name:        "Template",
		Description: "Fills {name} placeholders in a template with values.",
		Params: []catalog.ParamSpec{
			{Name: "template", Kind: catalog.KindString, Required: true, Doc: "Template text with {name} slots."},
			{Name: "values", Kind: catalog.KindMapping, Required: true, Doc: "Placeholder values by name."},
		},
		Outputs: []catalog.OutputSpec{{Name: "result", Doc: "The rendered text."}},
	}, catalog.FuncFactory(template))
}

// renderValue turns a placeholder value into text. Scalars print
// plainly; structured values render compactly.
func renderValue(v any) string {
	coerced, err := catalog.Coerce(v, catalog.KindString)
	if err == nil {
		if s, ok := coerced.(string); ok {
			return s
		}
	}
	return fmt.Sprintf("%v", v)
}
