package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/staked-tictactoe/internal/domain"
)

const (
	tableMatches = "matches"
	tableEvents  = "match_events"

	colID       = "id"
	colPlayerX  = "player_x"
	colPlayerO  = "player_o"
	colStatus   = "status"
	colMatchID  = "match_id"
	colCreated  = "created_at"
	matchFields = "id, player_x, COALESCE(player_o, ''), stake_x, stake_o, board, current_mover, status, winner, " +
		"move_count, fee, payout, claimed, version, created_at, updated_at"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// MatchFilter narrows a match history query. Zero values mean no constraint.
type MatchFilter struct {
	Status   *domain.MatchStatus
	Player   string
	BeforeID uint64
	Limit    uint64
}

// ListMatches returns persisted matches newest first, or every match in id
// order when the filter is empty.
func (r *Repository) ListMatches(ctx context.Context, f MatchFilter) ([]domain.Match, error) {
	sqlStr, args, err := matchQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building match query: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	matches, err := pgx.CollectRows(rows, scanMatch)
	if err != nil {
		return nil, fmt.Errorf("scanning matches: %w", err)
	}
	return matches, nil
}

func matchQuery(f MatchFilter) sq.SelectBuilder {
	query := psql.Select(matchFields).From(tableMatches)

	if f.Status != nil {
		query = query.Where(sq.Eq{colStatus: f.Status.String()})
	}
	if f.Player != "" {
		player := domain.NormalizeAddress(f.Player)
		query = query.Where(sq.Or{sq.Eq{colPlayerX: player}, sq.Eq{colPlayerO: player}})
	}
	if f.BeforeID > 0 {
		query = query.Where(sq.Lt{colID: int64(f.BeforeID)})
	}
	if f.Limit > 0 {
		query = query.OrderBy(colID + " DESC").Limit(f.Limit)
	} else {
		query = query.OrderBy(colID)
	}
	return query
}

func scanMatch(row pgx.CollectableRow) (domain.Match, error) {
	var (
		m                     domain.Match
		id, stakeX, stakeO    int64
		fee, payout, version  int64
		board, status, winner string
		mover, moveCount      int16
	)
	err := row.Scan(&id, &m.PlayerX, &m.PlayerO, &stakeX, &stakeO, &board, &mover, &status, &winner,
		&moveCount, &fee, &payout, &m.Claimed, &version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}

	m.ID = uint64(id)
	m.StakeX, m.StakeO = domain.Amount(stakeX), domain.Amount(stakeO)
	m.Fee, m.Payout = domain.Amount(fee), domain.Amount(payout)
	m.Version = uint64(version)
	m.CurrentMover = domain.Cell(mover)
	m.MoveCount = int(moveCount)

	if m.Board, err = domain.ParseBoard(board); err != nil {
		return m, err
	}
	if err := m.Status.UnmarshalText([]byte(status)); err != nil {
		return m, err
	}
	if err := m.Winner.UnmarshalText([]byte(winner)); err != nil {
		return m, err
	}
	return m, nil
}

// MatchEvents returns the recorded notifications of a match, newest first.
func (r *Repository) MatchEvents(ctx context.Context, matchID uint64, limit uint64) ([]domain.MatchChanged, error) {
	query := psql.Select(colMatchID, "kind", colStatus, "winner", "COALESCE(actor, '')", "version", colCreated).
		From(tableEvents).
		Where(sq.Eq{colMatchID: int64(matchID)}).
		OrderBy("version DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building event query: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("listing match events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MatchChanged, error) {
		var (
			ev                   domain.MatchChanged
			id, version          int64
			kind, status, winner string
		)
		if err := row.Scan(&id, &kind, &status, &winner, &ev.Actor, &version, &ev.At); err != nil {
			return ev, err
		}
		ev.MatchID, ev.Version, ev.Kind = uint64(id), uint64(version), domain.ChangeKind(kind)
		if err := ev.Status.UnmarshalText([]byte(status)); err != nil {
			return ev, err
		}
		return ev, ev.Winner.UnmarshalText([]byte(winner))
	})
	if err != nil {
		return nil, fmt.Errorf("scanning match events: %w", err)
	}
	return events, nil
}
