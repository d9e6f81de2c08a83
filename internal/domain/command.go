package domain

import (
	"fmt"
	"time"
)

// CommandType names an operation carried on the command topic
type CommandType string

const (
	CommandCreate  CommandType = "create"
	CommandJoin    CommandType = "join"
	CommandMove    CommandType = "move"
	CommandClaim   CommandType = "claim"
	CommandFaucet  CommandType = "faucet"
	CommandApprove CommandType = "approve"
)

// Command is an engine operation submitted asynchronously.
type Command struct {
	ID        string      `json:"id"`
	Type      CommandType `json:"type"`
	Caller    string      `json:"caller"`
	MatchID   uint64      `json:"match_id,omitempty"`
	Stake     Amount      `json:"stake,omitempty"`
	Position  int         `json:"position,omitempty"`
	Amount    Amount      `json:"amount,omitempty"`
	To        string      `json:"to,omitempty"`
	Spender   string      `json:"spender,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Normalize lower-cases the addresses carried by the command.
func (c *Command) Normalize() {
	c.Caller = NormalizeAddress(c.Caller)
	c.To = NormalizeAddress(c.To)
	c.Spender = NormalizeAddress(c.Spender)
}

// Validate checks that the fields required by the command type are present.
func (c *Command) Validate() error {
	if c.Caller == "" {
		return fmt.Errorf("%w: caller is required", ErrInvalidRequest)
	}
	switch c.Type {
	case CommandCreate:
		return nil
	case CommandJoin, CommandMove, CommandClaim:
		if c.MatchID == 0 {
			return fmt.Errorf("%w: match_id is required", ErrInvalidRequest)
		}
		return nil
	case CommandFaucet:
		if c.To == "" {
			return fmt.Errorf("%w: to is required", ErrInvalidRequest)
		}
		return nil
	case CommandApprove:
		if c.Spender == "" {
			return fmt.Errorf("%w: spender is required", ErrInvalidRequest)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown command type %q", ErrInvalidRequest, c.Type)
	}
}
