package engine

import (
	"fmt"
	"math/bits"

	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/ledger"
)

// Fee returns floor(pool * bps / 10000). The winner keeps the rounding dust.
func Fee(pool domain.Amount, bps uint64) domain.Amount {
	hi, lo := bits.Mul64(uint64(pool), bps)
	q, _ := bits.Div64(hi, lo, maxFeeBps)
	return domain.Amount(q)
}

// settle releases escrow for a match that just reached a terminal board.
// Draws refund both stakes without a fee. Decisive results pay the fee to
// the treasury and either credit or hold the payout depending on the mode.
func (e *Engine) settle(m *domain.Match) error {
	var credits []ledger.Credit

	switch m.Winner {
	case domain.WinnerDraw:
		credits = []ledger.Credit{
			{To: m.PlayerX, Amount: m.StakeX},
			{To: m.PlayerO, Amount: m.StakeO},
		}
		m.Fee, m.Payout = 0, 0

	case domain.WinnerX, domain.WinnerO:
		pool := m.Pool()
		m.Fee = Fee(pool, e.cfg.FeeBps)
		m.Payout = pool - m.Fee
		credits = append(credits, ledger.Credit{To: e.cfg.TreasuryAddress, Amount: m.Fee})
		if e.cfg.PayoutMode == PayoutCredit {
			credits = append(credits, ledger.Credit{To: m.WinnerAddress(), Amount: m.Payout})
			m.Claimed = true
		}

	default:
		return fmt.Errorf("settling match %d without a result: %w", m.ID, domain.ErrInternalError)
	}

	if err := e.ledger.Release(e.cfg.EscrowAddress, credits...); err != nil {
		return fmt.Errorf("settling match %d: %w", m.ID, err)
	}
	return nil
}

// recordResult updates stats and platform fee totals. Callers hold e.mu.
func (e *Engine) recordResult(m *domain.Match) {
	x, o := e.statsFor(m.PlayerX), e.statsFor(m.PlayerO)
	switch m.Winner {
	case domain.WinnerX:
		x.Wins++
		o.Losses++
	case domain.WinnerO:
		o.Wins++
		x.Losses++
	case domain.WinnerDraw:
		x.Draws++
		o.Draws++
	}
	e.platformFee += m.Fee
}

func (e *Engine) statsFor(addr string) *domain.PlayerStats {
	s, ok := e.stats[addr]
	if !ok {
		s = &domain.PlayerStats{Address: addr}
		e.stats[addr] = s
	}
	return s
}
