package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/payrecon/internal/domain"
)

const ledgerColumns = `reference, user_id, transaction_type, service_type, gateway,
	created_at, last_checked, check_count, max_checks, last_status, last_error`

// Enqueue adds a pending entry. Re-enqueueing an existing reference is a no-op.
func (s *Store) Enqueue(ctx context.Context, e domain.PendingEntry) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO pending_transactions
		    (reference, user_id, transaction_type, service_type, gateway, created_at, check_count, max_checks)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		 ON CONFLICT (reference) DO NOTHING`,
		e.Reference, e.UserID, e.TransactionType, e.ServiceType, e.Gateway, e.CreatedAt, e.MaxChecks,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", e.Reference, err)
	}
	return nil
}

// Dequeue removes an entry. Removing an absent entry is not an error.
func (s *Store) Dequeue(ctx context.Context, reference string) error {
	if _, err := s.Db.Exec(ctx, "DELETE FROM pending_transactions WHERE reference = $1", reference); err != nil {
		return fmt.Errorf("dequeue %s: %w", reference, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, reference string) (*domain.PendingEntry, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+ledgerColumns+" FROM pending_transactions WHERE reference = $1", reference)
	if err != nil {
		return nil, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrNotFound
	}
	return &entries[0], nil
}

// ListDue returns up to limit entries still under maxChecks, least recently checked first.
func (s *Store) ListDue(ctx context.Context, limit, maxChecks int) ([]domain.PendingEntry, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+ledgerColumns+` FROM pending_transactions
		  WHERE check_count < LEAST(max_checks, $2)
		  ORDER BY last_checked ASC NULLS FIRST, created_at ASC
		  LIMIT $1`,
		limit, maxChecks,
	)
	if err != nil {
		return nil, fmt.Errorf("list due: %w", err)
	}
	return collectEntries(rows)
}

// RecordAttempt bumps check_count, capped at max_checks, and stamps
// last_checked whatever the attempt's outcome.
func (s *Store) RecordAttempt(ctx context.Context, reference string, a domain.Attempt) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE pending_transactions
		    SET check_count   = LEAST(check_count + 1, max_checks),
		        last_checked  = now(),
		        last_status   = $2,
		        last_error    = CASE WHEN $3 <> '' THEN $3 ELSE last_error END,
		        last_error_at = CASE WHEN $3 <> '' THEN now() ELSE last_error_at END
		  WHERE reference = $1`,
		reference, a.Status, a.Error,
	)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", reference, err)
	}
	return nil
}

// DeleteExpired removes entries that exhausted their checks or were created
// before olderThan, returning the removed references.
func (s *Store) DeleteExpired(ctx context.Context, maxChecks int, olderThan time.Time) ([]string, error) {
	rows, err := s.Db.Query(ctx,
		`DELETE FROM pending_transactions
		  WHERE check_count >= LEAST(max_checks, $1) OR created_at < $2
		  RETURNING reference`,
		maxChecks, olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	return refs, nil
}

func collectEntries(rows pgx.Rows) ([]domain.PendingEntry, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PendingEntry, error) {
		var e domain.PendingEntry
		err := row.Scan(&e.Reference, &e.UserID, &e.TransactionType, &e.ServiceType, &e.Gateway,
			&e.CreatedAt, &e.LastChecked, &e.CheckCount, &e.MaxChecks, &e.LastStatus, &e.LastError)
		return e, err
	})
}
