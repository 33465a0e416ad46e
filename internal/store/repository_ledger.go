package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	EntryStakeEscrow = "stake_escrow"
	EntryPayout      = "stake_payout"
	EntryRefund      = "stake_refund"
	EntryTopup       = "topup_credit"

	RefSession = "session"
)

type LedgerFilter struct {
	PlayerID  string
	SessionID string
	From      *time.Time
	To        *time.Time
}

func (s *Store) EnsureAccount(ctx context.Context, playerID string, initial int64) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO accounts (player_id, balance) VALUES ($1, $2) ON CONFLICT (player_id) DO NOTHING`,
		playerID, initial)
	return err
}

func (s *Store) GetBalance(ctx context.Context, playerID string) (int64, error) {
	var bal int64
	if err := s.Pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE player_id = $1`, playerID).Scan(&bal); err != nil {
		return 0, mapNotFound(err)
	}
	return bal, nil
}

// Debit removes amount from the player's balance. A repeated call with the
// same (entryType, refType, refID) is a no-op returning the current balance.
func (s *Store) Debit(ctx context.Context, playerID string, amount int64, entryType, refType, refID string) (int64, error) {
	return s.move(ctx, playerID, -amount, entryType, refType, refID)
}

// Credit is the idempotent counterpart of Debit.
func (s *Store) Credit(ctx context.Context, playerID string, amount int64, entryType, refType, refID string) (int64, error) {
	return s.move(ctx, playerID, amount, entryType, refType, refID)
}

func (s *Store) move(ctx context.Context, playerID string, delta int64, entryType, refType, refID string) (int64, error) {
	if entryType == "" || refType == "" || refID == "" {
		return 0, errors.New("ledger entry needs type and reference")
	}
	var newBal int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var bal int64
		if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE player_id = $1 FOR UPDATE`, playerID).Scan(&bal); err != nil {
			return mapNotFound(err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (id, player_id, type, amount, ref_type, ref_id)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (player_id, type, ref_type, ref_id) DO NOTHING`,
			NewPrefixedID("le"), playerID, entryType, delta, refType, refID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			newBal = bal
			return nil
		}
		if bal+delta < 0 {
			return ErrInsufficientBalance
		}
		newBal = bal + delta
		_, err = tx.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = now() WHERE player_id = $1`, playerID, newBal)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newBal, nil
}

// EscrowedAmounts returns what each player has put in escrow for a session.
func (s *Store) EscrowedAmounts(ctx context.Context, sessionID string) (map[string]int64, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT player_id, -SUM(amount)
		FROM ledger_entries
		WHERE type = $1 AND ref_type = $2 AND ref_id = $3
		GROUP BY player_id`, EntryStakeEscrow, RefSession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var (
			playerID string
			amount   int64
		)
		if err := rows.Scan(&playerID, &amount); err != nil {
			return nil, err
		}
		out[playerID] = amount
	}
	return out, rows.Err()
}

func (s *Store) ListLedgerEntries(ctx context.Context, f LedgerFilter, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, player_id, type, amount, ref_type, ref_id, created_at
		FROM ledger_entries
		WHERE ($1 = '' OR player_id = $1)
		  AND ($2 = '' OR (ref_type = 'session' AND ref_id = $2))
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5 OFFSET $6`,
		f.PlayerID, f.SessionID, f.From, f.To, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.Type, &e.Amount, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
