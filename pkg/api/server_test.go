package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gametypes "warfront/pkg/game/types"
	"warfront/pkg/repositories"
	"warfront/pkg/rooms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*APIServer, repositories.Repository) {
	ctx := context.Background()
	repository, err := repositories.NewSQLiteRepository(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repository.Close(ctx) })

	registry := rooms.NewRegistry(ctx, rooms.NewRegistryOptions{})
	server := NewAPIServer(NewAPIServerOptions{
		Port:       0,
		Registry:   registry,
		Repository: repository,
	})
	return server, repository
}

func doRequest(server *APIServer, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestAPIServerHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIServerRooms(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/rooms")
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []rooms.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	assert.Empty(t, summaries)
}

func TestAPIServerMatches(t *testing.T) {
	server, repository := newTestServer(t)
	ctx := context.Background()

	result := &gametypes.MatchResult{
		MatchID:             "match-1",
		RoomID:              "room-1",
		MapType:             "desert",
		WinnerPlayerID:      "player-1",
		EliminatedPlayerIDs: []string{"player-2"},
		EndReason:           "elimination",
		Timestamp:           1700000000000,
	}
	require.NoError(t, repository.SaveMatchResult(ctx, result))

	rec := doRequest(server, http.MethodGet, "/matches")
	require.Equal(t, http.StatusOK, rec.Code)
	var results []*gametypes.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, result, results[0])

	rec = doRequest(server, http.MethodGet, "/matches/match-1")
	require.Equal(t, http.StatusOK, rec.Code)
	got := &gametypes.MatchResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), got))
	assert.Equal(t, result, got)

	rec = doRequest(server, http.MethodGet, "/matches/no-such-match")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(server, http.MethodGet, "/matches?limit=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
