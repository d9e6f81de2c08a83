package domain

import "time"

// ChangeKind identifies which operation changed a match
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeJoined  ChangeKind = "joined"
	ChangeMoved   ChangeKind = "moved"
	ChangeSettled ChangeKind = "settled"
	ChangeClaimed ChangeKind = "claimed"
)

// MatchChanged notifies subscribers that a match projection changed.
// Receivers re-read the match to get the new state.
type MatchChanged struct {
	MatchID uint64      `json:"match_id"`
	Kind    ChangeKind  `json:"kind"`
	Status  MatchStatus `json:"status"`
	Winner  Winner      `json:"winner"`
	Actor   string      `json:"actor,omitempty"`
	Version uint64      `json:"version"`
	At      time.Time   `json:"at"`
}

// Changeset is everything one successful operation wrote.
// It is persisted in a single transaction.
type Changeset struct {
	Match       *Match
	Move        *Move
	Event       *MatchChanged
	Accounts    []Account
	Allowances  []Allowance
	Minters     map[string]bool
	Owner       string
	TotalSupply Amount
	LedgerSeq   uint64
}
