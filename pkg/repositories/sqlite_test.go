package repositories

import (
	"context"
	"testing"

	gametypes "warfront/pkg/game/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRepositoryMatchResults(t *testing.T) {
	ctx := context.Background()
	repository, err := NewSQLiteRepository(ctx, ":memory:")
	require.NoError(t, err)
	defer repository.Close(ctx)

	result := &gametypes.MatchResult{
		MatchID:             "match-1",
		RoomID:              "room-1",
		MapType:             "desert",
		WinnerPlayerID:      "player-1",
		EliminatedPlayerIDs: []string{"player-2", "player-3"},
		EndReason:           "elimination",
		Timestamp:           1700000000000,
	}
	require.NoError(t, repository.SaveMatchResult(ctx, result))

	got, err := repository.GetMatchResult(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, result, got)

	// Saving again with the same id replaces the record.
	result.WinnerPlayerID = "player-2"
	require.NoError(t, repository.SaveMatchResult(ctx, result))
	got, err = repository.GetMatchResult(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, "player-2", got.WinnerPlayerID)

	_, err = repository.GetMatchResult(ctx, "no-such-match")
	assert.True(t, IsNotFound(err))
}

func TestSQLiteRepositoryListOrdering(t *testing.T) {
	ctx := context.Background()
	repository, err := NewSQLiteRepository(ctx, ":memory:")
	require.NoError(t, err)
	defer repository.Close(ctx)

	for i, ts := range []int64{100, 300, 200} {
		require.NoError(t, repository.SaveMatchResult(ctx, &gametypes.MatchResult{
			MatchID:             string(rune('a' + i)),
			RoomID:              "room-1",
			MapType:             "plains",
			WinnerPlayerID:      "player-1",
			EliminatedPlayerIDs: []string{},
			EndReason:           "elimination",
			Timestamp:           ts,
		}))
	}

	results, err := repository.ListMatchResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(300), results[0].Timestamp)
	assert.Equal(t, int64(200), results[1].Timestamp)
}
