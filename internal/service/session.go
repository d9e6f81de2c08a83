package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/staked-tictactoe/internal/domain"
)

const maxSnapshotBytes = 64 << 10

// SessionState is the shared state of a browser session
type SessionState struct {
	Session  string   `json:"session"`
	Peers    []string `json:"peers"`
	Snapshot []byte   `json:"snapshot,omitempty"`
}

// JoinSession records presence for a peer and returns its id
func (s *MatchService) JoinSession(ctx context.Context, session, peer string) (string, error) {
	session, err := s.checkSession(session)
	if err != nil {
		return "", err
	}
	return s.sessions.Heartbeat(ctx, session, peer)
}

// LeaveSession drops a peer from the roster before its presence expires
func (s *MatchService) LeaveSession(ctx context.Context, session, peer string) error {
	session, err := s.checkSession(session)
	if err != nil {
		return err
	}
	if strings.TrimSpace(peer) == "" {
		return fmt.Errorf("%w: peer is required", domain.ErrInvalidRequest)
	}
	return s.sessions.Leave(ctx, session, peer)
}

// SessionState returns the live peers and the last stored snapshot
func (s *MatchService) SessionState(ctx context.Context, session string) (SessionState, error) {
	session, err := s.checkSession(session)
	if err != nil {
		return SessionState{}, err
	}

	peers, err := s.sessions.Roster(ctx, session)
	if err != nil {
		return SessionState{}, err
	}
	state := SessionState{Session: session, Peers: peers}

	snapshot, err := s.sessions.Get(ctx, session)
	switch {
	case err == nil:
		state.Snapshot = snapshot
	case domain.IsNotFoundError(err):
	default:
		return SessionState{}, err
	}
	return state, nil
}

// PutSnapshot stores the session's shared slot
func (s *MatchService) PutSnapshot(ctx context.Context, session string, snapshot []byte) error {
	session, err := s.checkSession(session)
	if err != nil {
		return err
	}
	if len(snapshot) == 0 || len(snapshot) > maxSnapshotBytes {
		return fmt.Errorf("%w: snapshot must be between 1 and %d bytes", domain.ErrInvalidRequest, maxSnapshotBytes)
	}
	return s.sessions.Put(ctx, session, snapshot)
}

func (s *MatchService) checkSession(session string) (string, error) {
	if s.sessions == nil {
		return "", fmt.Errorf("%w: sessions are not configured", domain.ErrInternalError)
	}
	session = strings.TrimSpace(session)
	if session == "" {
		return "", fmt.Errorf("%w: session name is required", domain.ErrInvalidRequest)
	}
	return session, nil
}
