// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flow validates, runs, and inspects workflow documents
// without a server. Runs execute in-process with the same scheduler
// flowd uses and render node results to the terminal as they land.
//
// Network-backed node types (chat, agent tools, vector and cloud
// sinks) are registered but have no client wired here; workflows that
// reach them fail with configuration errors. Use flowd for those.
//
// Usage:
//
//	flow validate pipeline.json --watch
//	flow run pipeline.json -p region=eu -p limit=10 --timeout 2m
//	flow catalog --format json
package main

import (
	"os"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
)

func main() {
	ux.InitMode()
	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the usage error.
		os.Exit(ExitInvalid)
	}
}
