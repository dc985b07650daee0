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
	"context"
	"errors"
	"fmt"
)

// ===== Sentinel Errors =====

var (
	// ErrInvalidSpec indicates a catalog entry that fails self-validation.
	ErrInvalidSpec = errors.New("invalid node spec")

	// ErrDuplicateType indicates a second registration for the same type.
	ErrDuplicateType = errors.New("node type already registered")

	// ErrUnknownType indicates a lookup for a type the registry never saw.
	ErrUnknownType = errors.New("unknown node type")

	// ErrNilFactory indicates a registration with no factory function.
	ErrNilFactory = errors.New("nil node factory")

	// ErrFrozen indicates a registration attempted after Freeze.
	ErrFrozen = errors.New("registry is frozen")
)

// ===== Failure Taxonomy =====

// ErrorKind classifies a node failure for retry policy and reporting.
type ErrorKind string

const (
	FailValidation  ErrorKind = "validation"
	FailResolution  ErrorKind = "resolution"
	FailTimeout     ErrorKind = "timeout"
	FailTransientIO ErrorKind = "transient_io"
	FailPermanentIO ErrorKind = "permanent_io"
	FailExecutorBug ErrorKind = "executor_bug"
	FailCancelled   ErrorKind = "cancelled"
	FailDependency  ErrorKind = "dependency"
)

// Failure is a classified node error. The engine retries only
// FailTransientIO, and only on node types whose spec is Retryable.
type Failure struct {
	Kind ErrorKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether the failure kind is eligible for retry.
func (f *Failure) Retryable() bool { return f.Kind == FailTransientIO }

// Transient wraps err as a retryable I/O failure.
func Transient(err error) *Failure { return &Failure{Kind: FailTransientIO, Err: err} }

// Permanent wraps err as a non-retryable I/O failure.
func Permanent(err error) *Failure { return &Failure{Kind: FailPermanentIO, Err: err} }

// Bug wraps err as an executor defect (panic, protocol violation).
func Bug(err error) *Failure { return &Failure{Kind: FailExecutorBug, Err: err} }

// Timeout wraps err as a deadline expiry.
func Timeout(err error) *Failure { return &Failure{Kind: FailTimeout, Err: err} }

// Cancelled wraps err as a cancellation outcome.
func Cancelled(err error) *Failure { return &Failure{Kind: FailCancelled, Err: err} }

// Invalid wraps err as a pre-execution validation failure.
func Invalid(err error) *Failure { return &Failure{Kind: FailValidation, Err: err} }

// Unresolved wraps err as a reference resolution failure.
func Unresolved(err error) *Failure { return &Failure{Kind: FailResolution, Err: err} }

// DependencyFailed builds the failure recorded on nodes skipped because
// an upstream node failed. The message names the failed dependency.
func DependencyFailed(nodeID string) *Failure {
	return &Failure{Kind: FailDependency, Err: fmt.Errorf("dependency failed: %s", nodeID)}
}

// Classify maps an arbitrary executor error onto the taxonomy.
//
// Description:
//
//	Context expiry takes priority so a slow executor that surfaces a
//	wrapped ctx.Err is reported as a timeout or cancellation rather than
//	whatever it wrapped it in. An error that already carries a Failure
//	passes through unchanged. Anything else defaults to permanent I/O:
//	unclassified errors must not trigger retry storms.
func Classify(ctx context.Context, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return Timeout(err)
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return Cancelled(err)
	default:
		return Permanent(err)
	}
}
