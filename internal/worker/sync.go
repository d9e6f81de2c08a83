package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/engine"
	"github.com/staked-tictactoe/internal/ledger"
)

// Store is the durable copy of the engine and ledger
type Store interface {
	FlushSnapshot(ctx context.Context, matches []domain.Match, moves map[uint64][]domain.Move, state domain.LedgerState, nextMatchID uint64) error
	LoadLedger(ctx context.Context) (domain.LedgerState, uint64, bool, error)
	LoadMatches(ctx context.Context) ([]domain.Match, map[uint64][]domain.Move, error)
}

// CacheRebuilder reloads the match cache from a full match list
type CacheRebuilder interface {
	Rebuild(ctx context.Context, matches []domain.Match) error
}

// SyncWorker periodically flushes changed matches and the ledger to
// PostgreSQL, catching up on writes the request path could not persist.
type SyncWorker struct {
	engine *engine.Engine
	ledger *ledger.Ledger
	store  Store
	cache  CacheRebuilder
	config *config.SyncConfig
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}

	mu         sync.Mutex
	running    bool
	flushedSeq uint64
}

// NewSyncWorker creates a new sync worker. cache may be nil.
func NewSyncWorker(
	eng *engine.Engine,
	store Store,
	cache CacheRebuilder,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		engine: eng,
		ledger: eng.Ledger(),
		store:  store,
		cache:  cache,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop flushes once more and stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			// Final flush so a clean shutdown loses nothing.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.syncAll(flushCtx)
			cancel()
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll writes every dirty match and, when it changed, the ledger.
// Matches that fail to flush are marked dirty again.
func (w *SyncWorker) syncAll(ctx context.Context) {
	startTime := time.Now()

	ids := w.engine.DirtyMatches()
	state := w.ledger.Snapshot()

	w.mu.Lock()
	ledgerChanged := state.Seq > w.flushedSeq
	w.mu.Unlock()

	if len(ids) == 0 && !ledgerChanged {
		return
	}

	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	synced := 0
	// The ledger rides along with every batch; an empty batch still flushes it.
	for start := 0; ; start += batchSize {
		end := min(start+batchSize, len(ids))

		matches, moves := w.engine.Export(ids[start:end])
		if err := w.store.FlushSnapshot(ctx, matches, moves, state, w.engine.NextMatchID()); err != nil {
			w.logger.Error("sync cycle failed",
				"error", err,
				"synced", synced,
				"pending", len(ids)-start,
			)
			w.engine.MarkDirty(ids[start:]...)
			return
		}
		synced += len(matches)

		if end >= len(ids) {
			break
		}
	}

	w.mu.Lock()
	if state.Seq > w.flushedSeq {
		w.flushedSeq = state.Seq
	}
	w.mu.Unlock()

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"matches", synced,
		"ledger_seq", state.Seq,
	)
}

// SyncAllFromDatabase restores the ledger and engine from PostgreSQL and
// rebuilds the cache. It must run before the engine serves requests.
func (w *SyncWorker) SyncAllFromDatabase(ctx context.Context) error {
	w.logger.Info("restoring state from database")

	state, nextID, ok, err := w.store.LoadLedger(ctx)
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}
	if !ok {
		w.logger.Info("database is empty, starting from configured supply")
		return nil
	}
	if err := w.ledger.Restore(state); err != nil {
		return err
	}

	matches, moves, err := w.store.LoadMatches(ctx)
	if err != nil {
		return fmt.Errorf("loading matches: %w", err)
	}
	if err := w.engine.Restore(matches, moves, nextID); err != nil {
		return err
	}

	w.mu.Lock()
	w.flushedSeq = state.Seq
	w.mu.Unlock()

	if w.cache != nil {
		if err := w.cache.Rebuild(ctx, matches); err != nil {
			// The engine serves reads; a cold cache only slows listing.
			w.logger.Warn("failed to rebuild match cache", "error", err)
		}
	}

	w.logger.Info("restored state from database",
		"matches", len(matches),
		"accounts", len(state.Accounts),
		"next_match_id", w.engine.NextMatchID(),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
