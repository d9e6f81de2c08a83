package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/staked-tictactoe/internal/domain"
)

const maxSnapshotBody = 64 << 10

// PresenceRequest renews a peer's presence in a session
type PresenceRequest struct {
	Peer string `json:"peer,omitempty"`
}

// GetSession returns the roster and shared snapshot of a session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.SessionState(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, state)
}

// PutSnapshot overwrites the shared session snapshot
func (h *Handler) PutSnapshot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: snapshot exceeds %d bytes", domain.ErrInvalidRequest, maxSnapshotBody)
		}
		h.writeError(w, err)
		return
	}

	if err := h.service.PutSnapshot(r.Context(), chi.URLParam(r, "name"), body); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "stored"})
}

// Heartbeat records presence and returns the peer id
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req PresenceRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
	}

	peer, err := h.service.JoinSession(r.Context(), chi.URLParam(r, "name"), req.Peer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"peer": peer})
}

// LeaveSession removes a peer from the session roster
func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.LeaveSession(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "peer")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "left"})
}
