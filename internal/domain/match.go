package domain

import (
	"fmt"
	"strings"
	"time"
)

// Cell is the content of one board square.
type Cell uint8

const (
	CellEmpty Cell = iota
	CellX
	CellO
)

func (c Cell) String() string {
	switch c {
	case CellX:
		return "X"
	case CellO:
		return "O"
	default:
		return "-"
	}
}

// Opponent returns the other mark. Empty has no opponent.
func (c Cell) Opponent() Cell {
	switch c {
	case CellX:
		return CellO
	case CellO:
		return CellX
	default:
		return CellEmpty
	}
}

// Board holds the nine cells in row-major order.
type Board [9]Cell

// Marks returns the number of non-empty cells.
func (b Board) Marks() int {
	n := 0
	for _, c := range b {
		if c != CellEmpty {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no cell has been written.
func (b Board) IsEmpty() bool {
	return b.Marks() == 0
}

// String renders the board as nine characters, e.g. "XO--X---O".
func (b Board) String() string {
	var sb strings.Builder
	for _, c := range b {
		sb.WriteString(c.String())
	}
	return sb.String()
}

// ParseBoard is the inverse of Board.String.
func ParseBoard(s string) (Board, error) {
	var b Board
	if len(s) != len(b) {
		return b, fmt.Errorf("board %q: want %d cells", s, len(b))
	}
	for i, r := range s {
		switch r {
		case 'X':
			b[i] = CellX
		case 'O':
			b[i] = CellO
		case '-':
			b[i] = CellEmpty
		default:
			return b, fmt.Errorf("board %q: bad cell %q", s, r)
		}
	}
	return b, nil
}

// MatchStatus represents the lifecycle state of a match
type MatchStatus uint8

const (
	StatusOpen MatchStatus = iota
	StatusActive
	StatusSettled
)

var statusNames = map[MatchStatus]string{
	StatusOpen:    "open",
	StatusActive:  "active",
	StatusSettled: "settled",
}

func (s MatchStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s MatchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MatchStatus) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown match status %q", text)
}

// ParseStatus converts a status name into a MatchStatus.
func ParseStatus(name string) (MatchStatus, error) {
	var s MatchStatus
	if err := s.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return 0, err
	}
	return s, nil
}

// Winner is the outcome of a match
type Winner uint8

const (
	WinnerNone Winner = iota
	WinnerX
	WinnerO
	WinnerDraw
)

var winnerNames = map[Winner]string{
	WinnerNone: "none",
	WinnerX:    "x",
	WinnerO:    "o",
	WinnerDraw: "draw",
}

func (w Winner) String() string {
	if name, ok := winnerNames[w]; ok {
		return name
	}
	return fmt.Sprintf("winner(%d)", uint8(w))
}

func (w Winner) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Winner) UnmarshalText(text []byte) error {
	for winner, name := range winnerNames {
		if name == string(text) {
			*w = winner
			return nil
		}
	}
	return fmt.Errorf("unknown winner %q", text)
}

// Decisive reports whether one side won.
func (w Winner) Decisive() bool {
	return w == WinnerX || w == WinnerO
}

// WinnerOf converts a mark into the matching winner value.
func WinnerOf(c Cell) Winner {
	switch c {
	case CellX:
		return WinnerX
	case CellO:
		return WinnerO
	default:
		return WinnerNone
	}
}

// Match is the authoritative projection of one staked game.
type Match struct {
	ID           uint64      `json:"id"`
	PlayerX      string      `json:"player_x"`
	PlayerO      string      `json:"player_o,omitempty"`
	StakeX       Amount      `json:"stake_x"`
	StakeO       Amount      `json:"stake_o"`
	Board        Board       `json:"board"`
	CurrentMover Cell        `json:"current_mover"`
	Status       MatchStatus `json:"status"`
	Winner       Winner      `json:"winner"`
	MoveCount    int         `json:"move_count"`
	Fee          Amount      `json:"fee"`
	Payout       Amount      `json:"payout"`
	Claimed      bool        `json:"claimed"`
	Version      uint64      `json:"version"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Pool is the total amount held in escrow for the match.
func (m *Match) Pool() Amount {
	return m.StakeX + m.StakeO
}

// PlayerFor returns the address playing the given mark.
func (m *Match) PlayerFor(c Cell) string {
	switch c {
	case CellX:
		return m.PlayerX
	case CellO:
		return m.PlayerO
	default:
		return ""
	}
}

// MarkOf returns the mark played by addr, or CellEmpty when addr is not a player.
func (m *Match) MarkOf(addr string) Cell {
	switch {
	case addr == "":
		return CellEmpty
	case addr == m.PlayerX:
		return CellX
	case addr == m.PlayerO:
		return CellO
	default:
		return CellEmpty
	}
}

// WinnerAddress returns the winning player's address for decisive results.
func (m *Match) WinnerAddress() string {
	switch m.Winner {
	case WinnerX:
		return m.PlayerX
	case WinnerO:
		return m.PlayerO
	default:
		return ""
	}
}

// Move is one entry of a match's move log.
type Move struct {
	MatchID  uint64    `json:"match_id"`
	Seq      int       `json:"seq"`
	Player   string    `json:"player"`
	Position int       `json:"position"`
	Mark     Cell      `json:"mark"`
	At       time.Time `json:"at"`
}

// PlayerStats counts settled results for one address.
type PlayerStats struct {
	Address string `json:"address"`
	Wins    int    `json:"wins"`
	Losses  int    `json:"losses"`
	Draws   int    `json:"draws"`
}

// Played returns the number of settled matches.
func (s PlayerStats) Played() int {
	return s.Wins + s.Losses + s.Draws
}

// NormalizeAddress canonicalizes an account address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// RankedPlayer is one row of the wins leaderboard.
type RankedPlayer struct {
	Rank    int64  `json:"rank"`
	Address string `json:"address"`
	Wins    int64  `json:"wins"`
}
