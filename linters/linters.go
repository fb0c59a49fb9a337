// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package main

import (
	"golang.org/x/tools/go/analysis/multichecker"

	"github.com/tesseralabs/arbiter/linters/koanf"
	"github.com/tesseralabs/arbiter/linters/pointercheck"
)

func main() {
	multichecker.Main(
		koanf.Analyzer,
		pointercheck.Analyzer,
	)
}
