// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package pointercheck

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/tools/go/analysis/analysistest"
)

func TestPointerCheck(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	testdata := filepath.Join(filepath.Dir(wd), "testdata")
	got := errCount(analysistest.Run(t, testdata, Analyzer, "pointercheck"))
	if got != 6 {
		t.Errorf("analysistest.Run() got %d pointer comparisons, expected 6", got)
	}
}

func errCount(res []*analysistest.Result) int {
	cnt := 0
	for _, r := range res {
		if rs, ok := r.Result.(Result); ok {
			cnt += len(rs.Errors)
		}
	}
	return cnt
}
