package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	gametypes "warfront/pkg/game/types"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS match_results (
	match_id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	map_type TEXT NOT NULL,
	winner_player_id TEXT NOT NULL,
	eliminated_player_ids TEXT NOT NULL,
	end_reason TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
`

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %v", err)
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveMatchResult(ctx context.Context, result *gametypes.MatchResult) error {
	eliminated, err := json.Marshal(result.EliminatedPlayerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal eliminated player ids: %v", err)
	}

	q := `
	INSERT OR REPLACE INTO match_results (match_id, room_id, map_type, winner_player_id, eliminated_player_ids, end_reason, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?);
	`
	_, err = r.db.ExecContext(ctx, q, result.MatchID, result.RoomID, result.MapType, result.WinnerPlayerID, string(eliminated), result.EndReason, result.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert match result: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) GetMatchResult(ctx context.Context, matchID string) (*gametypes.MatchResult, error) {
	q := `
	SELECT match_id, room_id, map_type, winner_player_id, eliminated_player_ids, end_reason, timestamp
	FROM match_results WHERE match_id = ?;
	`
	result, err := scanMatchResult(r.db.QueryRowContext(ctx, q, matchID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan match result: %v", err)
	}

	return result, nil
}

func (r *SQLiteRepository) ListMatchResults(ctx context.Context, limit int) ([]*gametypes.MatchResult, error) {
	q := `
	SELECT match_id, room_id, map_type, winner_player_id, eliminated_player_ids, end_reason, timestamp
	FROM match_results ORDER BY timestamp DESC LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, limit)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatchResult(row rowScanner) (*gametypes.MatchResult, error) {
	result := &gametypes.MatchResult{}
	var eliminated string
	if err := row.Scan(&result.MatchID, &result.RoomID, &result.MapType, &result.WinnerPlayerID, &eliminated, &result.EndReason, &result.Timestamp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eliminated), &result.EliminatedPlayerIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal eliminated player ids: %v", err)
	}
	return result, nil
}
