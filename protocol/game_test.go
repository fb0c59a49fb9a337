// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package protocol

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[GameStatus][]GameStatus{
		GamePending:         {GameChallenged, GameExpired, GameResolvedValid},
		GameChallenged:      {GameResolvedValid, GameResolvedInvalid},
		GameResolvedValid:   {},
		GameResolvedInvalid: {},
		GameExpired:         {},
	}
	all := []GameStatus{GamePending, GameChallenged, GameResolvedValid, GameResolvedInvalid, GameExpired}
	for from, tos := range allowed {
		ok := make(map[GameStatus]bool)
		for _, to := range tos {
			ok[to] = true
		}
		for _, to := range all {
			require.Equal(t, ok[to], from.CanTransitionTo(to), "transition %v -> %v", from, to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, GamePending.IsTerminal())
	require.False(t, GameChallenged.IsTerminal())
	require.True(t, GameResolvedValid.IsTerminal())
	require.True(t, GameResolvedInvalid.IsTerminal())
	require.True(t, GameExpired.IsTerminal())
}

func TestGameClone(t *testing.T) {
	g := &GameInstance{
		ID:            3,
		ParentID:      2,
		L2BlockNumber: 300,
		Bond:          big.NewInt(1000),
	}
	cpy := g.Clone()
	cpy.Bond.SetInt64(5)
	cpy.Status = GameChallenged
	require.Equal(t, int64(1000), g.Bond.Int64())
	require.Equal(t, GamePending, g.Status)
}

func TestErrorTaxonomy(t *testing.T) {
	tr := Transient("filter logs", errors.New("connection refused"))
	require.True(t, IsTransient(tr))
	require.True(t, IsTransient(fmt.Errorf("scan failed: %w", tr)))
	require.False(t, IsTransient(errors.New("connection refused")))
	require.Nil(t, Transient("noop", nil))

	fatal := Fatalf("two anchor games: %v and %v", GameID(0), GameID(7))
	require.True(t, IsFatal(fatal))
	require.True(t, IsFatal(fmt.Errorf("ingest: %w", fatal)))
	require.False(t, IsFatal(tr))

	var inc *LedgerInconsistencyError
	err := error(&LedgerInconsistencyError{GameID: 9, MissingParent: 8, Reason: "not ingested"})
	require.True(t, errors.As(err, &inc))
	require.Equal(t, GameID(8), inc.MissingParent)
}
