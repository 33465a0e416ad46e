package store

import "context"

// RecordReconciliation notes a finalize step that failed after the session
// was already claimed as ENDED, so an operator can replay it.
func (s *Store) RecordReconciliation(ctx context.Context, sessionID, step, errText string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO reconciliation_items (id, session_id, step, error) VALUES ($1,$2,$3,$4)`,
		NewPrefixedID("rc"), sessionID, step, errText)
	return err
}

func (s *Store) ListOpenReconciliation(ctx context.Context, limit int) ([]ReconciliationItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, session_id, step, error, created_at
		FROM reconciliation_items
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReconciliationItem
	for rows.Next() {
		var it ReconciliationItem
		if err := rows.Scan(&it.ID, &it.SessionID, &it.Step, &it.Error, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
