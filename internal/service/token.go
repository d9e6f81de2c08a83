package service

import (
	"context"

	"github.com/staked-tictactoe/internal/domain"
)

// TokenInfo returns the token metadata and supply
func (s *MatchService) TokenInfo() domain.TokenInfo {
	return s.ledger.Info()
}

// Balance returns the balance of an address
func (s *MatchService) Balance(addr string) domain.Amount {
	return s.ledger.BalanceOf(addr)
}

// Allowance returns how much spender may move on owner's behalf
func (s *MatchService) Allowance(owner, spender string) domain.Amount {
	return s.ledger.Allowance(owner, spender)
}

// Mint creates new tokens. Only the owner and registered minters may mint.
func (s *MatchService) Mint(ctx context.Context, caller, to string, amount domain.Amount) error {
	if err := s.ledger.Mint(caller, to, amount); err != nil {
		return err
	}
	s.persist(ctx, domain.Changeset{Accounts: s.ledger.Accounts(to)})
	return nil
}

// Faucet mints test tokens to an address on the owner's behalf
func (s *MatchService) Faucet(ctx context.Context, caller, to string, amount domain.Amount) error {
	if err := s.ledger.Faucet(caller, to, amount); err != nil {
		return err
	}
	s.persist(ctx, domain.Changeset{Accounts: s.ledger.Accounts(to)})
	return nil
}

// Transfer moves tokens from the caller to another address
func (s *MatchService) Transfer(ctx context.Context, caller, to string, amount domain.Amount) error {
	if err := s.ledger.Transfer(caller, to, amount); err != nil {
		return err
	}
	s.persist(ctx, domain.Changeset{Accounts: s.ledger.Accounts(caller, to)})
	return nil
}

// Approve sets the caller's allowance for spender
func (s *MatchService) Approve(ctx context.Context, caller, spender string, amount domain.Amount) error {
	if err := s.ledger.Approve(caller, spender, amount); err != nil {
		return err
	}
	s.persist(ctx, domain.Changeset{Allowances: []domain.Allowance{s.ledger.AllowanceRow(caller, spender)}})
	return nil
}

// TransferFrom moves tokens from an owner using the caller's allowance
func (s *MatchService) TransferFrom(ctx context.Context, caller, from, to string, amount domain.Amount) error {
	if err := s.ledger.TransferFrom(caller, from, to, amount); err != nil {
		return err
	}
	s.persist(ctx, domain.Changeset{
		Accounts:   s.ledger.Accounts(from, to),
		Allowances: []domain.Allowance{s.ledger.AllowanceRow(from, caller)},
	})
	return nil
}

// AddMinter registers an address allowed to mint
func (s *MatchService) AddMinter(ctx context.Context, caller, addr string) error {
	if err := s.ledger.AddMinter(caller, addr); err != nil {
		return err
	}
	s.persist(ctx, domain.Changeset{Minters: map[string]bool{domain.NormalizeAddress(addr): true}})
	return nil
}

// RemoveMinter revokes an address's minting right
func (s *MatchService) RemoveMinter(ctx context.Context, caller, addr string) error {
	if err := s.ledger.RemoveMinter(caller, addr); err != nil {
		return err
	}
	s.persist(ctx, domain.Changeset{Minters: map[string]bool{domain.NormalizeAddress(addr): false}})
	return nil
}
