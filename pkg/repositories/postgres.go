package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	gametypes "warfront/pkg/game/types"

	"github.com/jackc/pgx/v5"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository creates a Repository backed by Postgres.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (Repository, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	q := `
	CREATE TABLE IF NOT EXISTS match_results (
		match_id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		map_type TEXT NOT NULL,
		winner_player_id TEXT NOT NULL,
		eliminated_player_ids TEXT NOT NULL,
		end_reason TEXT NOT NULL,
		timestamp BIGINT NOT NULL
	);
	`
	if _, err := conn.Exec(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %v", err)
	}

	return &PostgresRepository{
		conn: conn,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) SaveMatchResult(ctx context.Context, result *gametypes.MatchResult) error {
	eliminated, err := json.Marshal(result.EliminatedPlayerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal eliminated player ids: %v", err)
	}

	q := `
	INSERT INTO match_results (match_id, room_id, map_type, winner_player_id, eliminated_player_ids, end_reason, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (match_id) DO UPDATE SET
		room_id = $2, map_type = $3, winner_player_id = $4, eliminated_player_ids = $5, end_reason = $6, timestamp = $7;
	`
	_, err = r.conn.Exec(ctx, q, result.MatchID, result.RoomID, result.MapType, result.WinnerPlayerID, string(eliminated), result.EndReason, result.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert match result: %v", err)
	}

	return nil
}

func (r *PostgresRepository) GetMatchResult(ctx context.Context, matchID string) (*gametypes.MatchResult, error) {
	q := `
	SELECT match_id, room_id, map_type, winner_player_id, eliminated_player_ids, end_reason, timestamp
	FROM match_results WHERE match_id = $1;
	`
	result, err := scanMatchResult(r.conn.QueryRow(ctx, q, matchID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan match result: %v", err)
	}

	return result, nil
}

func (r *PostgresRepository) ListMatchResults(ctx context.Context, limit int) ([]*gametypes.MatchResult, error) {
	q := `
	SELECT match_id, room_id, map_type, winner_player_id, eliminated_player_ids, end_reason, timestamp
	FROM match_results ORDER BY timestamp DESC LIMIT $1;
	`
	rows, err := r.conn.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query match results: %v", err)
	}
	defer rows.Close()

	var results []*gametypes.MatchResult
	for rows.Next() {
		result, err := scanMatchResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match result: %v", err)
		}
		results = append(results, result)
	}

	return results, nil
}
