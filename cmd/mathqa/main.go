// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command mathqa serves and queries the math question similarity index.
// This file should remain minimal: all wiring lives in internal/app.
package main

import (
	"os"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), err, jsonOutput(root))
		os.Exit(1)
	}
}
