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
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/kv"
)

func registerKV(reg *catalog.Registry, deps Deps) error {
	put := func(ctx context.Context, params map[string]any) (any, error) {
		return runKVPut(ctx, deps.KV, params)
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "kv_put",
		Name:        "KV Put",
		Description: "Stores a value in the workflow key-value store.",
		Params: []catalog.ParamSpec{
			{Name: "key", Kind: catalog.KindString, Required: true, Doc: "Storage key."},
			{Name: "value", Kind: catalog.KindAny, Required: true, Doc: "Value to store."},
			{Name: "ttl_seconds", Kind: catalog.KindInteger, Default: 0, Doc: "Expiry in seconds. Zero keeps the value until deleted."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "key", Doc: "The stored key."},
			{Name: "stored", Doc: "True when the write succeeded."},
		},
	}, catalog.FuncFactory(put)); err != nil {
		return err
	}

	get := func(ctx context.Context, params map[string]any) (any, error) {
		return runKVGet(ctx, deps.KV, params)
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "kv_get",
		Name:        "KV Get",
		Description: "Reads a value from the workflow key-value store.",
		Params: []catalog.ParamSpec{
			{Name: "key", Kind: catalog.KindString, Required: true, Doc: "Storage key."},
			{Name: "default", Kind: catalog.KindAny, Doc: "Value to return when the key is absent. Without it a missing key fails the node."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "key", Doc: "The requested key."},
			{Name: "value", Doc: "Stored value, or the default."},
			{Name: "found", Doc: "True when the key existed."},
		},
	}, catalog.FuncFactory(get)); err != nil {
		return err
	}

	del := func(ctx context.Context, params map[string]any) (any, error) {
		return runKVDelete(ctx, deps.KV, params)
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "kv_delete",
		Name:        "KV Delete",
		Description: "Removes a key from the workflow key-value store.",
		Params: []catalog.ParamSpec{
			{Name: "key", Kind: catalog.KindString, Required: true, Doc: "Storage key."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "key", Doc: "The removed key."},
			{Name: "deleted", Doc: "True when the delete ran. Absent keys are not an error."},
		},
	}, catalog.FuncFactory(del))
}

func runKVPut(ctx context.Context, store *kv.Store, params map[string]any) (any, error) {
	if store == nil {
		return nil, catalog.Permanent(fmt.Errorf("kv store is not configured"))
	}
	key, err := stringParam(params, "key")
	if err != nil {
		return nil, err
	}
	value, ok := params["value"]
	if !ok {
		return nil, catalog.Invalid(fmt.Errorf("param \"value\": required"))
	}
	ttlSeconds, err := intParam(params, "ttl_seconds", 0)
	if err != nil {
		return nil, err
	}
	if ttlSeconds < 0 {
		return nil, catalog.Invalid(fmt.Errorf("param \"ttl_seconds\": must not be negative"))
	}
	if err := store.Put(ctx, key, value, time.Duration(ttlSeconds)*time.Second); err != nil {
		return nil, catalog.Permanent(fmt.Errorf("store %q: %w", key, err))
	}
	return map[string]any{"key": key, "stored": true}, nil
}

func runKVGet(ctx context.Context, store *kv.Store, params map[string]any) (any, error) {
	if store == nil {
		return nil, catalog.Permanent(fmt.Errorf("kv store is not configured"))
	}
	key, err := stringParam(params, "key")
	if err != nil {
		return nil, err
	}
	value, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		if fallback, ok := params["default"]; ok {
			return map[string]any{"key": key, "value": fallback, "found": false}, nil
		}
		return nil, catalog.Permanent(err)
	}
	if err != nil {
		return nil, catalog.Permanent(fmt.Errorf("read %q: %w", key, err))
	}
	return map[string]any{"key": key, "value": value, "found": true}, nil
}

func runKVDelete(ctx context.Context, store *kv.Store, params map[string]any) (any, error) {
	if store == nil {
		return nil, catalog.Permanent(fmt.Errorf("kv store is not configured"))
	}
	key, err := stringParam(params, "key")
	if err != nil {
		return nil, err
	}
	if err := store.Delete(ctx, key); err != nil {
		return nil, catalog.Permanent(fmt.Errorf("delete %q: %w", key, err))
	}
	return map[string]any{"key": key, "deleted": true}, nil
}
