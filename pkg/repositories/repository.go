package repositories

import (
	"context"

	gametypes "warfront/pkg/game/types"
)

// Repository persists finished match results.
type Repository interface {
	Close(ctx context.Context) error
	SaveMatchResult(ctx context.Context, result *gametypes.MatchResult) error
	GetMatchResult(ctx context.Context, matchID string) (*gametypes.MatchResult, error)
	ListMatchResults(ctx context.Context, limit int) ([]*gametypes.MatchResult, error)
}
