package domain

import "errors"

// Domain errors
var (
	ErrUnauthorized          = errors.New("caller is not authorized")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrSupplyExceeded        = errors.New("max supply exceeded")
	ErrInsufficientFunds     = errors.New("insufficient funds for stake")
	ErrStakeMismatch         = errors.New("stake does not match the creator's stake")
	ErrSelfJoinForbidden     = errors.New("cannot join your own match")
	ErrNotFound              = errors.New("match not found")
	ErrMatchClosed           = errors.New("match is closed")
	ErrInvalidMove           = errors.New("invalid move")
	ErrCellOccupied          = errors.New("cell already occupied")
	ErrNotYourTurn           = errors.New("not your turn")
	ErrAlreadyClaimed        = errors.New("winnings already claimed")
	ErrNotWinner             = errors.New("caller is not the winner")
	ErrEngineUnreachable     = errors.New("engine unreachable")
	ErrInvalidStake          = errors.New("stake must be greater than zero")
	ErrInvalidAmount         = errors.New("invalid token amount")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInternalError         = errors.New("internal server error")
)

var kindNames = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInsufficientAllowance, "InsufficientAllowance"},
	{ErrSupplyExceeded, "SupplyExceeded"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrStakeMismatch, "StakeMismatch"},
	{ErrSelfJoinForbidden, "SelfJoinForbidden"},
	{ErrNotFound, "NotFound"},
	{ErrMatchClosed, "MatchClosed"},
	{ErrInvalidMove, "InvalidMove"},
	{ErrCellOccupied, "CellOccupied"},
	{ErrNotYourTurn, "NotYourTurn"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrNotWinner, "NotWinner"},
	{ErrEngineUnreachable, "EngineUnreachable"},
	{ErrInvalidStake, "InvalidStake"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidRequest, "InvalidRequest"},
	{ErrInternalError, "InternalError"},
}

// Kind returns the wire name of the domain error wrapped by err.
// Unknown errors map to "InternalError"; nil maps to "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "InternalError"
}

// FromKind maps a wire name back to its sentinel error.
func FromKind(name string) (error, bool) {
	for _, k := range kindNames {
		if k.name == name {
			return k.err, true
		}
	}
	return nil, false
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRejection reports whether err is a deterministic refusal of the request.
// Retrying a rejected request yields the same error.
func IsRejection(err error) bool {
	switch Kind(err) {
	case "", "EngineUnreachable", "InternalError":
		return false
	}
	return true
}
