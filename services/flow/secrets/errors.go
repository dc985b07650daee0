// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import "errors"

var (
	// ErrNotFound indicates a secret that exists neither in the
	// environment nor in the secrets directory.
	ErrNotFound = errors.New("secret not found")

	// ErrMlockLimit indicates the RLIMIT_MEMLOCK limit is too low for
	// locked secret storage and the insecure override is not set.
	ErrMlockLimit = errors.New("mlock limit insufficient for secure memory")
)
