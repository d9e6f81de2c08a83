package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/staked-tictactoe/internal/domain"
)

// TokenRequest carries the fields of the token operations
type TokenRequest struct {
	Caller  string `json:"caller,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Spender string `json:"spender,omitempty"`
	Address string `json:"address,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// BalanceResponse reports an amount both raw and formatted
type BalanceResponse struct {
	Address   string        `json:"address"`
	Spender   string        `json:"spender,omitempty"`
	Amount    domain.Amount `json:"amount"`
	Formatted string        `json:"formatted"`
}

// tokenOp decodes a token request and resolves the caller and amount
func (h *Handler) tokenOp(w http.ResponseWriter, r *http.Request, needAmount bool) (TokenRequest, string, domain.Amount, bool) {
	var req TokenRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return req, "", 0, false
	}
	addr, err := caller(r, req.Caller)
	if err != nil {
		h.writeError(w, err)
		return req, "", 0, false
	}
	if !needAmount {
		return req, addr, 0, true
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(w, err)
		return req, "", 0, false
	}
	return req, addr, amount, true
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidRequest, field)
	}
	return nil
}

// GetTokenInfo returns token metadata and supply
func (h *Handler) GetTokenInfo(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.TokenInfo())
}

// GetBalance returns the balance of an address
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr := domain.NormalizeAddress(chi.URLParam(r, "address"))
	amount := h.service.Balance(addr)
	h.writeSuccess(w, BalanceResponse{Address: addr, Amount: amount, Formatted: amount.String()})
}

// GetAllowance returns how much spender may move on behalf of address
func (h *Handler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	owner := domain.NormalizeAddress(chi.URLParam(r, "address"))
	spender := domain.NormalizeAddress(chi.URLParam(r, "spender"))
	amount := h.service.Allowance(owner, spender)
	h.writeSuccess(w, BalanceResponse{Address: owner, Spender: spender, Amount: amount, Formatted: amount.String()})
}

// Mint creates tokens for an address
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	req, addr, amount, ok := h.tokenOp(w, r, true)
	if !ok {
		return
	}
	if err := required("to", req.To); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.Mint(r.Context(), addr, req.To, amount); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "minted"})
}

// Faucet distributes test tokens
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	req, addr, amount, ok := h.tokenOp(w, r, true)
	if !ok {
		return
	}
	if err := required("to", req.To); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.Faucet(r.Context(), addr, req.To, amount); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "sent"})
}

// Transfer moves tokens from the caller
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	req, addr, amount, ok := h.tokenOp(w, r, true)
	if !ok {
		return
	}
	if err := required("to", req.To); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.Transfer(r.Context(), addr, req.To, amount); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "transferred"})
}

// Approve sets the caller's allowance for a spender
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	req, addr, amount, ok := h.tokenOp(w, r, true)
	if !ok {
		return
	}
	if err := required("spender", req.Spender); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.Approve(r.Context(), addr, req.Spender, amount); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "approved"})
}

// TransferFrom moves tokens out of another balance using the caller's allowance
func (h *Handler) TransferFrom(w http.ResponseWriter, r *http.Request) {
	req, addr, amount, ok := h.tokenOp(w, r, true)
	if !ok {
		return
	}
	for _, f := range [][2]string{{"from", req.From}, {"to", req.To}} {
		if err := required(f[0], f[1]); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if err := h.service.TransferFrom(r.Context(), addr, req.From, req.To, amount); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "transferred"})
}

// AddMinter registers a minter
func (h *Handler) AddMinter(w http.ResponseWriter, r *http.Request) {
	req, addr, _, ok := h.tokenOp(w, r, false)
	if !ok {
		return
	}
	if err := required("address", req.Address); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.AddMinter(r.Context(), addr, req.Address); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "added"})
}

// RemoveMinter revokes a minter
func (h *Handler) RemoveMinter(w http.ResponseWriter, r *http.Request) {
	addr, err := caller(r, "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.RemoveMinter(r.Context(), addr, chi.URLParam(r, "address")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "removed"})
}
