package service

import (
	"context"
	"fmt"

	"github.com/staked-tictactoe/internal/domain"
)

// ExecuteCommand runs one asynchronously submitted operation
func (s *MatchService) ExecuteCommand(ctx context.Context, cmd domain.Command) error {
	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		return err
	}

	var err error
	switch cmd.Type {
	case domain.CommandCreate:
		_, err = s.CreateMatch(ctx, cmd.Caller, cmd.Stake)
	case domain.CommandJoin:
		_, err = s.JoinMatch(ctx, cmd.Caller, cmd.MatchID, cmd.Stake)
	case domain.CommandMove:
		_, err = s.SubmitMove(ctx, cmd.Caller, cmd.MatchID, cmd.Position)
	case domain.CommandClaim:
		_, err = s.ClaimWinnings(ctx, cmd.Caller, cmd.MatchID)
	case domain.CommandFaucet:
		err = s.Faucet(ctx, cmd.Caller, cmd.To, cmd.Amount)
	case domain.CommandApprove:
		err = s.Approve(ctx, cmd.Caller, cmd.Spender, cmd.Amount)
	}
	if err != nil {
		return fmt.Errorf("command %s %s: %w", cmd.ID, cmd.Type, err)
	}
	return nil
}

// ExecuteBatch runs commands in order. A rejected command is logged and
// skipped; only a cancelled context stops the batch.
func (s *MatchService) ExecuteBatch(ctx context.Context, cmds []domain.Command) error {
	var rejected int
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ExecuteCommand(ctx, cmd); err != nil {
			rejected++
			s.logger.Warn("command rejected",
				"command_id", cmd.ID,
				"type", cmd.Type,
				"caller", cmd.Caller,
				"kind", domain.Kind(err),
				"error", err,
			)
		}
	}

	s.logger.Debug("command batch executed", "count", len(cmds), "rejected", rejected)
	return nil
}
