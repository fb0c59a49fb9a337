// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package pointercheck

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"reflect"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name:       "pointercheck",
	Doc:        "check for pointer comparison",
	Run:        run,
	ResultType: reflect.TypeOf(Result{}),
}

// pointerCmpError indicates the position of a pointer comparison.
type pointerCmpError struct {
	Pos     token.Pos
	Message string
}

// Result holds all pointer comparisons found in a package.
type Result struct {
	Errors []pointerCmpError
}

func run(pass *analysis.Pass) (interface{}, error) {
	var ret Result
	for _, f := range pass.Files {
		ast.Inspect(f, func(node ast.Node) bool {
			if e, ok := node.(*ast.BinaryExpr); ok {
				if err := checkExpr(pass, e); err != nil {
					ret.Errors = append(ret.Errors, *err)
				}
			}
			return true
		})
	}
	for _, err := range ret.Errors {
		pass.Report(analysis.Diagnostic{
			Pos:      err.Pos,
			Message:  err.Message,
			Category: "pointercheck",
		})
	}
	return ret, nil
}

// checkExpr checks that an expression is not a comparison of two pointers.
// Pointer identity is almost never the comparison the code means; types that
// want it should do so explicitly via unsafe or uintptr conversion.
func checkExpr(pass *analysis.Pass, e *ast.BinaryExpr) *pointerCmpError {
	if e.Op != token.EQL && e.Op != token.NEQ {
		return nil
	}
	if ptrIdent(pass, e.X) && ptrIdent(pass, e.Y) {
		return &pointerCmpError{
			Pos:     e.Pos(),
			Message: fmt.Sprintf("comparison of two pointers in expression %v", e),
		}
	}
	return nil
}

func ptrIdent(pass *analysis.Pass, e ast.Expr) bool {
	switch tp := e.(type) {
	case *ast.Ident, *ast.SelectorExpr:
		et := pass.TypesInfo.Types[tp].Type
		_, isPtr := (et).(*types.Pointer)
		return isPtr
	}
	return false
}
