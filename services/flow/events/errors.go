// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import "errors"

var (
	// ErrSessionExists indicates an Open call for an id already in use.
	ErrSessionExists = errors.New("session already open")

	// ErrUnknownSession indicates an operation on a session the bus
	// does not hold.
	ErrUnknownSession = errors.New("unknown session")

	// ErrBusClosed indicates an operation after Close.
	ErrBusClosed = errors.New("event bus is closed")
)
