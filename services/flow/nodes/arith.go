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

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

func registerArith(reg *catalog.Registry, _ Deps) error {
	numParams := []catalog.ParamSpec{
		{Name: "num1", Kind: catalog.KindFloat, Required: true, Doc: "First operand."},
		{Name: "num2", Kind: catalog.KindFloat, Required: true, Doc: "Second operand."},
	}

	arith := func(op func(a, b float64) float64) catalog.ExecutorFunc {
		return func(ctx context.Context, params map[string]any) (any, error) {
			a, err := floatParam(params, "num1")
			if err != nil {
				return nil, err
			}
			b, err := floatParam(params, "num2")
			if err != nil {
				return nil, err
			}
			return map[string]any{"result": op(a, b)}, nil
		}
	}

	if err := reg.Register(catalog.NodeSpec{
		Type:        "add",
		Name:        "Add",
		Description: "Adds two numbers.",
		Params:      numParams,
		Outputs:     []catalog.OutputSpec{{Name: "result", Doc: "The sum."}},
	}, catalog.FuncFactory(arith(func(a, b float64) float64 { return a + b }))); err != nil {
		return err
	}

	return reg.Register(catalog.NodeSpec{
		Type:        "multiply",
		Name:        "Multiply",
		Description: "Multiplies two numbers.",
		Params:      numParams,
		Outputs:     []catalog.OutputSpec{{Name: "result", Doc: "The product."}},
	}, catalog.FuncFactory(arith(func(a, b float64) float64 { return a * b })))
}
