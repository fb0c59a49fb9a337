// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package headerreader

import (
	"errors"
	"regexp"

	"github.com/ethereum/go-ethereum/rpc"
)

var executionRevertedRegexp = regexp.MustCompile(`(?i)execution reverted|VM execution error`)

// IsExecutionReverted returns whether the error is an "execution reverted" error
// from an execution client. Clients disagree on the message, so this matches
// both the common strings and JSON-RPC error code 3.
func IsExecutionReverted(err error) bool {
	var rpcError rpc.Error
	if errors.As(err, &rpcError) && rpcError.ErrorCode() == 3 {
		return true
	}
	return executionRevertedRegexp.MatchString(err.Error())
}
