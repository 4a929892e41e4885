package workers

import (
	"context"

	gametypes "warfront/pkg/game/types"
	"warfront/pkg/log"
	"warfront/pkg/repositories"
)

type SaveMatchResultWorker struct {
	repository repositories.Repository
	resultChan <-chan gametypes.MatchResult
}

type NewSaveMatchResultWorkerOptions struct {
	Repository repositories.Repository
	ResultChan <-chan gametypes.MatchResult
}

// NewSaveMatchResultWorker creates a new SaveMatchResultWorker.
// The worker persists match results handed off by room sessions so the
// rooms never block on the database.
func NewSaveMatchResultWorker(opts NewSaveMatchResultWorkerOptions) *SaveMatchResultWorker {
	return &SaveMatchResultWorker{
		repository: opts.Repository,
		resultChan: opts.ResultChan,
	}
}

func (w *SaveMatchResultWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-w.resultChan:
			if err := w.repository.SaveMatchResult(ctx, &result); err != nil {
				log.Error("Failed to save match result %s: %v", result.MatchID, err)
				continue
			}
			log.Debug("Saved match result %s", result.MatchID)
		}
	}
}
