package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"0", 0},
		{"1", 1_000_000},
		{"10.5", 10_500_000},
		{"0.000001", 1},
		{" 1000000000 ", 1_000_000_000_000_000},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000001", "99999999999999999999"} {
		_, err := ParseAmount(in)
		assert.True(t, errors.Is(err, ErrInvalidAmount), in)
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "10.5", Amount(10_500_000).String())
	assert.Equal(t, "0", Amount(0).String())
	assert.Equal(t, "0.000001", Amount(1).String())
	assert.Equal(t, "10500000", Amount(10_500_000).Units())
	assert.Equal(t, Amount(5_000_000), Tokens(5))
}

func TestKindRoundTrip(t *testing.T) {
	wrapped := fmt.Errorf("joining match 7: %w", ErrStakeMismatch)
	assert.Equal(t, "StakeMismatch", Kind(wrapped))
	assert.Equal(t, "InternalError", Kind(errors.New("boom")))
	assert.Equal(t, "", Kind(nil))

	err, ok := FromKind("StakeMismatch")
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrStakeMismatch)

	_, ok = FromKind("Nope")
	assert.False(t, ok)
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(ErrCellOccupied))
	assert.True(t, IsRejection(fmt.Errorf("x: %w", ErrInvalidRequest)))
	assert.False(t, IsRejection(ErrEngineUnreachable))
	assert.False(t, IsRejection(errors.New("db down")))
	assert.False(t, IsRejection(nil))
}
