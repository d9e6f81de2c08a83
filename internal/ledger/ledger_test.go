package ledger

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staked-tictactoe/internal/domain"
)

const (
	owner = "0xowner"
	alice = "0xalice"
	bob   = "0xbob"
)

func newTestLedger(t *testing.T, max, initial domain.Amount) *Ledger {
	t.Helper()
	l, err := New(Config{Owner: owner, MaxSupply: max, InitialSupply: initial}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return l
}

func TestNewMintsInitialSupplyToOwner(t *testing.T) {
	l := newTestLedger(t, 1000, 400)

	assert.Equal(t, domain.Amount(400), l.BalanceOf(owner))
	assert.Equal(t, domain.Amount(400), l.TotalSupply())

	info := l.Info()
	assert.Equal(t, "Monad Token", info.Name)
	assert.Equal(t, "MON", info.Symbol)
	assert.Equal(t, 6, info.Decimals)
	assert.Equal(t, domain.Amount(1000), info.MaxSupply)
}

func TestNewRejectsInitialAboveMax(t *testing.T) {
	_, err := New(Config{Owner: owner, MaxSupply: 10, InitialSupply: 11}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, domain.ErrSupplyExceeded)
}

func TestMintSupplyCap(t *testing.T) {
	l := newTestLedger(t, 1000, 900)

	require.NoError(t, l.Mint(owner, alice, 100))
	assert.Equal(t, domain.Amount(1000), l.TotalSupply())

	err := l.Mint(owner, alice, 1)
	assert.ErrorIs(t, err, domain.ErrSupplyExceeded)
	assert.Equal(t, domain.Amount(1000), l.TotalSupply())
	assert.Equal(t, domain.Amount(100), l.BalanceOf(alice))
}

func TestMintAuthorization(t *testing.T) {
	l := newTestLedger(t, 1000, 0)

	assert.ErrorIs(t, l.Mint(alice, alice, 5), domain.ErrUnauthorized)

	require.NoError(t, l.AddMinter(owner, alice))
	require.NoError(t, l.AddMinter(owner, alice))
	assert.True(t, l.IsMinter(alice))
	assert.Equal(t, []string{alice}, l.Info().Minters)
	require.NoError(t, l.Mint(alice, bob, 5))
	assert.Equal(t, domain.Amount(5), l.BalanceOf(bob))

	require.NoError(t, l.RemoveMinter(owner, alice))
	require.NoError(t, l.RemoveMinter(owner, alice))
	assert.ErrorIs(t, l.Mint(alice, bob, 5), domain.ErrUnauthorized)
	assert.Empty(t, l.Info().Minters)

	assert.ErrorIs(t, l.AddMinter(bob, bob), domain.ErrUnauthorized)
}

func TestFaucetOwnerOnly(t *testing.T) {
	l := newTestLedger(t, 100, 0)
	require.NoError(t, l.AddMinter(owner, alice))

	assert.ErrorIs(t, l.Faucet(alice, alice, 10), domain.ErrUnauthorized)
	require.NoError(t, l.Faucet(owner, alice, 10))
	assert.ErrorIs(t, l.Faucet(owner, alice, 91), domain.ErrSupplyExceeded)
}

func TestTransfer(t *testing.T) {
	l := newTestLedger(t, 1000, 100)

	require.NoError(t, l.Transfer(owner, alice, 40))
	assert.Equal(t, domain.Amount(60), l.BalanceOf(owner))
	assert.Equal(t, domain.Amount(40), l.BalanceOf(alice))

	assert.ErrorIs(t, l.Transfer(alice, bob, 41), domain.ErrInsufficientBalance)
	assert.Equal(t, domain.Amount(40), l.BalanceOf(alice))

	require.NoError(t, l.Transfer(bob, alice, 0))
}

func TestAddressesAreCaseInsensitive(t *testing.T) {
	l := newTestLedger(t, 1000, 100)

	require.NoError(t, l.Transfer("0xOWNER", "0xAlice", 10))
	assert.Equal(t, domain.Amount(10), l.BalanceOf(alice))
}

func TestApproveAndTransferFrom(t *testing.T) {
	l := newTestLedger(t, 1000, 100)

	require.NoError(t, l.Approve(owner, alice, 30))
	assert.Equal(t, domain.Amount(30), l.Allowance(owner, alice))

	assert.ErrorIs(t, l.TransferFrom(alice, owner, bob, 31), domain.ErrInsufficientAllowance)

	require.NoError(t, l.TransferFrom(alice, owner, bob, 20))
	assert.Equal(t, domain.Amount(10), l.Allowance(owner, alice))
	assert.Equal(t, domain.Amount(20), l.BalanceOf(bob))
	assert.Equal(t, domain.Amount(80), l.BalanceOf(owner))

	require.NoError(t, l.Approve(bob, alice, 50))
	assert.ErrorIs(t, l.TransferFrom(alice, bob, owner, 21), domain.ErrInsufficientBalance)
	assert.Equal(t, domain.Amount(50), l.Allowance(bob, alice))
}

func TestDrawStakeAndRelease(t *testing.T) {
	l := newTestLedger(t, 1000, 100)
	const escrow = "escrow"

	assert.ErrorIs(t, l.DrawStake(owner, escrow, 10, true), domain.ErrInsufficientAllowance)
	assert.ErrorIs(t, l.DrawStake(alice, escrow, 10, false), domain.ErrInsufficientFunds)

	require.NoError(t, l.Approve(owner, escrow, 10))
	require.NoError(t, l.DrawStake(owner, escrow, 10, true))
	assert.Equal(t, domain.Amount(0), l.Allowance(owner, escrow))
	assert.Equal(t, domain.Amount(10), l.BalanceOf(escrow))

	err := l.Release(escrow, Credit{To: alice, Amount: 6}, Credit{To: bob, Amount: 5})
	assert.ErrorIs(t, err, domain.ErrInternalError)
	assert.Equal(t, domain.Amount(10), l.BalanceOf(escrow))
	assert.Equal(t, domain.Amount(0), l.BalanceOf(alice))

	require.NoError(t, l.Release(escrow, Credit{To: alice, Amount: 6}, Credit{To: bob, Amount: 4}))
	assert.Equal(t, domain.Amount(0), l.BalanceOf(escrow))
	assert.Equal(t, domain.Amount(100), l.TotalSupply())
}

func TestCustodyAccountOnlyPaysThroughRelease(t *testing.T) {
	l := newTestLedger(t, 1000, 100)
	const escrow = "escrow"

	assert.ErrorIs(t, l.Reserve(owner), domain.ErrInvalidRequest)
	assert.ErrorIs(t, l.Reserve(""), domain.ErrInvalidRequest)
	require.NoError(t, l.Reserve("ESCROW"))
	assert.True(t, l.InCustody(escrow))

	require.NoError(t, l.Transfer(owner, alice, 20))
	require.NoError(t, l.DrawStake(alice, escrow, 20, false))
	require.NoError(t, l.Approve(bob, escrow, 5))

	assert.ErrorIs(t, l.Transfer(escrow, bob, 20), domain.ErrUnauthorized)
	assert.ErrorIs(t, l.Approve(escrow, bob, 20), domain.ErrUnauthorized)
	assert.ErrorIs(t, l.TransferFrom(bob, escrow, bob, 0), domain.ErrUnauthorized)
	assert.ErrorIs(t, l.TransferFrom(escrow, bob, escrow, 0), domain.ErrUnauthorized)
	assert.ErrorIs(t, l.DrawStake(escrow, escrow, 1, false), domain.ErrUnauthorized)

	assert.Equal(t, domain.Amount(20), l.BalanceOf(escrow))
	assert.Equal(t, domain.Amount(0), l.BalanceOf(bob))
	assert.Equal(t, domain.Amount(5), l.Allowance(bob, escrow))

	require.NoError(t, l.Release(escrow, Credit{To: bob, Amount: 20}))
	assert.Equal(t, domain.Amount(20), l.BalanceOf(bob))
}

func TestSnapshotRestore(t *testing.T) {
	l := newTestLedger(t, 1000, 100)
	require.NoError(t, l.Transfer(owner, alice, 25))
	require.NoError(t, l.Approve(alice, bob, 7))
	require.NoError(t, l.AddMinter(owner, bob))

	state := l.Snapshot()

	restored := newTestLedger(t, 1000, 0)
	require.NoError(t, restored.Restore(state))

	assert.Equal(t, domain.Amount(75), restored.BalanceOf(owner))
	assert.Equal(t, domain.Amount(25), restored.BalanceOf(alice))
	assert.Equal(t, domain.Amount(7), restored.Allowance(alice, bob))
	assert.True(t, restored.IsMinter(bob))
	assert.Equal(t, l.Seq(), restored.Seq())

	state.TotalSupply++
	assert.ErrorIs(t, restored.Restore(state), domain.ErrInternalError)
}

func TestSeqStampsTouchedAccounts(t *testing.T) {
	l := newTestLedger(t, 1000, 100)
	require.NoError(t, l.Transfer(owner, alice, 1))
	first := l.Accounts(alice)[0].Seq

	require.NoError(t, l.Transfer(owner, bob, 1))
	accounts := l.Accounts(alice, bob, alice)
	require.Len(t, accounts, 2)
	assert.Equal(t, first, accounts[0].Seq)
	assert.Greater(t, accounts[1].Seq, first)
}
