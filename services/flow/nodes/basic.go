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
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

func registerBasic(reg *catalog.Registry, _ Deps) error {
	echo := func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{"value": params["value"]}, nil
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "echo",
		Name:        "Echo",
		Description: "Returns its input unchanged. Useful for staging a value other nodes reference.",
		Params: []catalog.ParamSpec{
			{Name: "value", Kind: catalog.KindAny, Required: true, Doc: "The value to pass through."},
		},
		Outputs: []catalog.OutputSpec{{Name: "value", Doc: "The input value."}},
	}, catalog.FuncFactory(echo)); err != nil {
		return err
	}

	sleep := func(ctx context.Context, params map[string]any) (any, error) {
		ms, err := intParam(params, "duration_ms", 0)
		if err != nil {
			return nil, err
		}
		if ms < 0 {
			ms = 0
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(ms) * time.Millisecond):
		}
		return map[string]any{"slept_ms": ms}, nil
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "sleep",
		Name:        "Sleep",
		Description: "Pauses for a number of milliseconds.",
		Params: []catalog.ParamSpec{
			{Name: "duration_ms", Kind: catalog.KindInteger, Required: true, Doc: "How long to sleep, in milliseconds."},
		},
		Outputs: []catalog.OutputSpec{{Name: "slept_ms", Doc: "The milliseconds slept."}},
	}, catalog.FuncFactory(sleep))
}
