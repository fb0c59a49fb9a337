// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package koanf

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"reflect"

	"golang.org/x/tools/go/analysis"
)

var (
	errUnused        = errors.New("koanf field not used")
	errMismatch      = errors.New("field name doesn't match koanf tag")
	errIncorrectFlag = errors.New("flag name doesn't match field name")
)

var Analyzer = &analysis.Analyzer{
	Name:       "koanfcheck",
	Doc:        "check for koanf misconfigurations",
	Run:        run,
	ResultType: reflect.TypeOf(Result{}),
}

// koanfError indicates the position of an error in configuration.
type koanfError struct {
	Pos     token.Pos
	Message string
	err     error
}

// Result holds all the configuration errors found in a package.
type Result struct {
	Errors []koanfError
}

func run(pass *analysis.Pass) (interface{}, error) {
	var (
		ret Result
		// Counts usages of every koanf-tagged field. Flag definitions
		// subtract what the generic selector walk adds, so defining a flag
		// does not count as using the field it defaults from.
		cnt    = make(map[string]int)
		fields = koanfFields(pass)
	)
	for _, f := range pass.Files {
		ast.Inspect(f, func(node ast.Node) bool {
			var res Result
			switch v := node.(type) {
			case *ast.StructType:
				res = checkStruct(pass, v)
			case *ast.FuncDecl:
				res = checkFlagDefs(pass, v, cnt)
			case *ast.SelectorExpr:
				handleSelector(pass, v, 1, cnt)
			case *ast.CompositeLit:
				handleComposite(pass, v, cnt)
			default:
			}
			ret.Errors = append(ret.Errors, res.Errors...)
			return true
		})
	}
	for field, pos := range fields {
		if cnt[field] == 0 {
			ret.Errors = append(ret.Errors, koanfError{
				Pos:     pos,
				Message: fmt.Sprintf("field %v not used", field),
				err:     errUnused,
			})
		}
	}
	for _, err := range ret.Errors {
		pass.Report(analysis.Diagnostic{
			Pos:      err.Pos,
			Message:  err.Message,
			Category: "koanf",
		})
	}
	return ret, nil
}
