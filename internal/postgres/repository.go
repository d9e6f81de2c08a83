package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool      *pgxpool.Pool
	txManager trm.Manager
	getter    *trmpgx.CtxGetter
	logger    *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	txManager, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating transaction manager: %w", err)
	}

	return &Repository{
		pool:      pool,
		txManager: txManager,
		getter:    trmpgx.DefaultCtxGetter,
		logger:    logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// conn returns the transaction bound to ctx, or the pool outside one.
func (r *Repository) conn(ctx context.Context) trmpgx.Tr {
	return r.getter.DefaultTrOrDB(ctx, r.pool)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ledger_meta (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			owner VARCHAR(64) NOT NULL,
			total_supply BIGINT NOT NULL CHECK (total_supply >= 0),
			seq BIGINT NOT NULL DEFAULT 0,
			next_match_id BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			address VARCHAR(64) PRIMARY KEY,
			balance BIGINT NOT NULL CHECK (balance >= 0),
			seq BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS allowances (
			owner VARCHAR(64) NOT NULL,
			spender VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL CHECK (amount >= 0),
			seq BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner, spender)
		)`,
		`CREATE TABLE IF NOT EXISTS minters (
			address VARCHAR(64) PRIMARY KEY,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGINT PRIMARY KEY,
			player_x VARCHAR(64) NOT NULL,
			player_o VARCHAR(64),
			stake_x BIGINT NOT NULL CHECK (stake_x > 0),
			stake_o BIGINT NOT NULL DEFAULT 0,
			board CHAR(9) NOT NULL,
			current_mover SMALLINT NOT NULL,
			status VARCHAR(10) NOT NULL,
			winner VARCHAR(10) NOT NULL,
			move_count SMALLINT NOT NULL DEFAULT 0,
			fee BIGINT NOT NULL DEFAULT 0,
			payout BIGINT NOT NULL DEFAULT 0,
			claimed BOOLEAN NOT NULL DEFAULT FALSE,
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS match_moves (
			match_id BIGINT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			seq SMALLINT NOT NULL,
			player VARCHAR(64) NOT NULL,
			position SMALLINT NOT NULL CHECK (position BETWEEN 0 AND 8),
			mark SMALLINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (match_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS match_events (
			id BIGSERIAL PRIMARY KEY,
			match_id BIGINT NOT NULL,
			kind VARCHAR(20) NOT NULL,
			status VARCHAR(10) NOT NULL,
			winner VARCHAR(10) NOT NULL,
			actor VARCHAR(64),
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (match_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status, id)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player_x ON matches(player_x, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player_o ON matches(player_o, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_match_events_match ON match_events(match_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const (
	upsertMatchQuery = `
		INSERT INTO matches (id, player_x, player_o, stake_x, stake_o, board, current_mover, status, winner,
			move_count, fee, payout, claimed, version, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			player_o = EXCLUDED.player_o,
			stake_o = EXCLUDED.stake_o,
			board = EXCLUDED.board,
			current_mover = EXCLUDED.current_mover,
			status = EXCLUDED.status,
			winner = EXCLUDED.winner,
			move_count = EXCLUDED.move_count,
			fee = EXCLUDED.fee,
			payout = EXCLUDED.payout,
			claimed = EXCLUDED.claimed,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE matches.version < EXCLUDED.version
	`
	insertMoveQuery = `
		INSERT INTO match_moves (match_id, seq, player, position, mark, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (match_id, seq) DO NOTHING
	`
	insertEventQuery = `
		INSERT INTO match_events (match_id, kind, status, winner, actor, version, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (match_id, version) DO NOTHING
	`
	upsertAccountQuery = `
		INSERT INTO accounts (address, balance, seq, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET balance = EXCLUDED.balance, seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at
		WHERE accounts.seq < EXCLUDED.seq
	`
	upsertAllowanceQuery = `
		INSERT INTO allowances (owner, spender, amount, seq, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount, seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at
		WHERE allowances.seq < EXCLUDED.seq
	`
	upsertLedgerMetaQuery = `
		INSERT INTO ledger_meta (id, owner, total_supply, seq, next_match_id, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			total_supply = CASE WHEN ledger_meta.seq < EXCLUDED.seq THEN EXCLUDED.total_supply ELSE ledger_meta.total_supply END,
			seq = GREATEST(ledger_meta.seq, EXCLUDED.seq),
			next_match_id = GREATEST(ledger_meta.next_match_id, EXCLUDED.next_match_id),
			updated_at = EXCLUDED.updated_at
	`
)

// SaveChangeset writes everything one engine operation changed in a single transaction.
func (r *Repository) SaveChangeset(ctx context.Context, cs domain.Changeset, nextMatchID uint64) error {
	now := time.Now()

	return r.txManager.Do(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}

		if cs.Match != nil {
			queueMatch(batch, *cs.Match)
		}
		if cs.Move != nil {
			queueMove(batch, *cs.Move)
		}
		if cs.Event != nil {
			queueEvent(batch, *cs.Event)
		}
		for _, a := range cs.Accounts {
			batch.Queue(upsertAccountQuery, a.Address, int64(a.Balance), int64(a.Seq), now)
		}
		for _, a := range cs.Allowances {
			batch.Queue(upsertAllowanceQuery, a.Owner, a.Spender, int64(a.Amount), int64(a.Seq), now)
		}
		for addr, enabled := range cs.Minters {
			if enabled {
				batch.Queue(`INSERT INTO minters (address) VALUES ($1) ON CONFLICT DO NOTHING`, addr)
			} else {
				batch.Queue(`DELETE FROM minters WHERE address = $1`, addr)
			}
		}
		if cs.LedgerSeq > 0 {
			batch.Queue(upsertLedgerMetaQuery, cs.Owner, int64(cs.TotalSupply), int64(cs.LedgerSeq), int64(nextMatchID), now)
		}

		if err := r.sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("saving changeset: %w", err)
		}
		return nil
	})
}

// FlushSnapshot writes whole matches and the full ledger in one transaction.
// Rows already newer in the database are left alone.
func (r *Repository) FlushSnapshot(ctx context.Context, matches []domain.Match, moves map[uint64][]domain.Move, state domain.LedgerState, nextMatchID uint64) error {
	now := time.Now()

	return r.txManager.Do(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}

		batch.Queue(upsertLedgerMetaQuery, state.Owner, int64(state.TotalSupply), int64(state.Seq), int64(nextMatchID), now)
		for _, a := range state.Accounts {
			batch.Queue(upsertAccountQuery, a.Address, int64(a.Balance), int64(a.Seq), now)
		}
		for _, a := range state.Allowances {
			batch.Queue(upsertAllowanceQuery, a.Owner, a.Spender, int64(a.Amount), int64(a.Seq), now)
		}
		batch.Queue(`DELETE FROM minters WHERE NOT (address = ANY($1))`, state.Minters)
		for _, m := range state.Minters {
			batch.Queue(`INSERT INTO minters (address) VALUES ($1) ON CONFLICT DO NOTHING`, m)
		}
		for _, m := range matches {
			queueMatch(batch, m)
			for _, mv := range moves[m.ID] {
				queueMove(batch, mv)
			}
		}

		if err := r.sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("flushing snapshot: %w", err)
		}
		return nil
	})
}

func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func queueMatch(batch *pgx.Batch, m domain.Match) {
	batch.Queue(upsertMatchQuery,
		int64(m.ID),
		m.PlayerX,
		m.PlayerO,
		int64(m.StakeX),
		int64(m.StakeO),
		m.Board.String(),
		int16(m.CurrentMover),
		m.Status.String(),
		m.Winner.String(),
		int16(m.MoveCount),
		int64(m.Fee),
		int64(m.Payout),
		m.Claimed,
		int64(m.Version),
		m.CreatedAt,
		m.UpdatedAt,
	)
}

func queueMove(batch *pgx.Batch, mv domain.Move) {
	batch.Queue(insertMoveQuery, int64(mv.MatchID), int16(mv.Seq), mv.Player, int16(mv.Position), int16(mv.Mark), mv.At)
}

func queueEvent(batch *pgx.Batch, ev domain.MatchChanged) {
	batch.Queue(insertEventQuery,
		int64(ev.MatchID),
		string(ev.Kind),
		ev.Status.String(),
		ev.Winner.String(),
		ev.Actor,
		int64(ev.Version),
		ev.At,
	)
}

// LoadLedger reads the persisted ledger. ok is false on an empty database.
func (r *Repository) LoadLedger(ctx context.Context) (state domain.LedgerState, nextMatchID uint64, ok bool, err error) {
	var total, seq, next int64
	err = r.pool.QueryRow(ctx, `SELECT owner, total_supply, seq, next_match_id FROM ledger_meta WHERE id = 1`).
		Scan(&state.Owner, &total, &seq, &next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerState{}, 0, false, nil
		}
		return domain.LedgerState{}, 0, false, fmt.Errorf("loading ledger meta: %w", err)
	}
	state.TotalSupply = domain.Amount(total)
	state.Seq = uint64(seq)
	nextMatchID = uint64(next)

	rows, err := r.pool.Query(ctx, `SELECT address, balance, seq FROM accounts ORDER BY address`)
	if err != nil {
		return domain.LedgerState{}, 0, false, fmt.Errorf("loading accounts: %w", err)
	}
	state.Accounts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Account, error) {
		var a domain.Account
		var balance, seq int64
		err := row.Scan(&a.Address, &balance, &seq)
		a.Balance, a.Seq = domain.Amount(balance), uint64(seq)
		return a, err
	})
	if err != nil {
		return domain.LedgerState{}, 0, false, fmt.Errorf("scanning accounts: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT owner, spender, amount, seq FROM allowances ORDER BY owner, spender`)
	if err != nil {
		return domain.LedgerState{}, 0, false, fmt.Errorf("loading allowances: %w", err)
	}
	state.Allowances, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Allowance, error) {
		var a domain.Allowance
		var amount, seq int64
		err := row.Scan(&a.Owner, &a.Spender, &amount, &seq)
		a.Amount, a.Seq = domain.Amount(amount), uint64(seq)
		return a, err
	})
	if err != nil {
		return domain.LedgerState{}, 0, false, fmt.Errorf("scanning allowances: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT address FROM minters ORDER BY address`)
	if err != nil {
		return domain.LedgerState{}, 0, false, fmt.Errorf("loading minters: %w", err)
	}
	state.Minters, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return domain.LedgerState{}, 0, false, fmt.Errorf("scanning minters: %w", err)
	}

	return state, nextMatchID, true, nil
}

// LoadMatches reads every match and its move log.
func (r *Repository) LoadMatches(ctx context.Context) ([]domain.Match, map[uint64][]domain.Move, error) {
	matches, err := r.ListMatches(ctx, MatchFilter{})
	if err != nil {
		return nil, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT match_id, seq, player, position, mark, created_at
		FROM match_moves
		ORDER BY match_id, seq
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("loading moves: %w", err)
	}
	defer rows.Close()

	moves := make(map[uint64][]domain.Move)
	for rows.Next() {
		var (
			mv                  domain.Move
			matchID             int64
			seq, position, mark int16
		)
		if err := rows.Scan(&matchID, &seq, &mv.Player, &position, &mark, &mv.At); err != nil {
			return nil, nil, fmt.Errorf("scanning move: %w", err)
		}
		mv.MatchID = uint64(matchID)
		mv.Seq, mv.Position, mv.Mark = int(seq), int(position), domain.Cell(mark)
		moves[mv.MatchID] = append(moves[mv.MatchID], mv)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading moves: %w", err)
	}
	return matches, moves, nil
}
