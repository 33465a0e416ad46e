package ledger

import (
	"context"
	"errors"
	"fmt"

	"staked-arena/internal/session"
	"staked-arena/internal/store"
)

// Accounts is the balance store the ledger moves stakes through.
type Accounts interface {
	Debit(ctx context.Context, playerID string, amount int64, entryType, refType, refID string) (int64, error)
	Credit(ctx context.Context, playerID string, amount int64, entryType, refType, refID string) (int64, error)
	EscrowedAmounts(ctx context.Context, sessionID string) (map[string]int64, error)
}

type Ledger struct {
	accounts Accounts
}

func New(a Accounts) *Ledger {
	return &Ledger{accounts: a}
}

// Escrow takes a player's stake for a session. Repeating it is a no-op.
func (l *Ledger) Escrow(ctx context.Context, sessionID, playerID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	return l.accounts.Debit(ctx, playerID, amount, store.EntryStakeEscrow, store.RefSession, sessionID)
}

// Settle pays out the escrow for an ended session and returns the settlement
// reference. Every credit is keyed by session so a replay pays nothing twice.
func (l *Ledger) Settle(ctx context.Context, sess *session.Session, result session.Result) (string, error) {
	if sess == nil {
		return "", errors.New("nil session")
	}
	if result.IsLive() {
		return "", fmt.Errorf("session %s has no result", sess.ID)
	}
	escrow, err := l.accounts.EscrowedAmounts(ctx, sess.ID)
	if err != nil {
		return "", err
	}
	if len(escrow) == 0 {
		return "", nil
	}
	ref := SettlementRef(sess.ID)

	if winner, ok := result.Winner(); ok {
		winnerID, seated := sess.PlayerOn(winner)
		if !seated {
			return "", fmt.Errorf("session %s has no %s player", sess.ID, winner)
		}
		var pot int64
		for _, amount := range escrow {
			pot += amount
		}
		if _, err := l.accounts.Credit(ctx, winnerID, pot, store.EntryPayout, store.RefSession, sess.ID); err != nil {
			return "", err
		}
		return ref, nil
	}

	// Draw and Void both hand back exactly what each player put in.
	for playerID, amount := range escrow {
		if amount <= 0 {
			continue
		}
		if _, err := l.accounts.Credit(ctx, playerID, amount, store.EntryRefund, store.RefSession, sess.ID); err != nil {
			return "", err
		}
	}
	return ref, nil
}

func SettlementRef(sessionID string) string {
	return "settle_" + sessionID
}
