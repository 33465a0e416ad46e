package testutil

import (
	"context"
	"testing"

	"staked-arena/internal/session"
	"staked-arena/internal/store"
)

// MustAccount creates a funded account for playerID.
func MustAccount(t *testing.T, st *store.Store, playerID string, balance int64) {
	t.Helper()
	if err := st.EnsureAccount(context.Background(), playerID, balance); err != nil {
		t.Fatalf("ensure account %s: %v", playerID, err)
	}
}

// MustSession inserts a WAITING session with white and black already seated.
func MustSession(t *testing.T, st *store.Store, white, black string, stake int64) *session.Session {
	t.Helper()
	sess := &session.Session{
		Mode:   "blitz",
		Option: "5+0",
		Stake:  stake,
		Participants: []session.Participant{
			{PlayerID: white, Side: session.White, Creator: true},
			{PlayerID: black, Side: session.Black},
		},
	}
	if err := st.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}
