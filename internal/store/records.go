package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/payrecon/internal/domain"
)

// CreateRecord inserts a new pending service record. A reused reference is
// rejected with domain.ErrAlreadyExists.
func (s *Store) CreateRecord(ctx context.Context, collection string, rec *domain.ServiceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.Db.Exec(ctx,
		`INSERT INTO service_records
		    (collection, reference, transaction_type, status, service_status, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		collection, rec.Reference, rec.TransactionType, string(rec.Status), string(rec.ServiceStatus),
		data, rec.CreatedAt, rec.UpdatedAt,
	)
	if err := mapErr(err); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("insert record %s: %w", rec.Reference, err)
	}
	return nil
}

// GetRecord loads one record. The status columns are authoritative over the document copy.
func (s *Store) GetRecord(ctx context.Context, collection, reference string) (*domain.ServiceRecord, error) {
	var (
		data     []byte
		status   string
		applied  bool
		verified *time.Time
		updated  time.Time
	)
	err := s.Db.QueryRow(ctx,
		`SELECT data, status, side_effects_applied, verified_at, updated_at
		   FROM service_records WHERE collection = $1 AND reference = $2`,
		collection, reference,
	).Scan(&data, &status, &applied, &verified, &updated)
	if err != nil {
		return nil, mapErr(err)
	}

	var rec domain.ServiceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", reference, err)
	}
	rec.Status = domain.Status(status)
	rec.SideEffectsApplied = applied
	rec.VerifiedAt = verified
	rec.UpdatedAt = updated
	return &rec, nil
}

// UpdateStatus moves a pending record to a terminal status. The write is a
// compare-and-set on status = 'pending': it reports false, with no error, when
// another path already finalized the record.
func (s *Store) UpdateStatus(ctx context.Context, collection, reference string, upd domain.StatusUpdate) (bool, error) {
	patch := map[string]any{
		"status":      upd.Status,
		"amount":      upd.Amount,
		"verified_at": upd.VerifiedAt,
		"updatedAt":   upd.VerifiedAt,
	}
	if upd.PaidAt != nil {
		patch["paidAt"] = upd.PaidAt
	}
	if upd.Channel != "" {
		patch["channel"] = upd.Channel
	}
	if upd.GatewayResponse != "" {
		patch["gateway_response"] = upd.GatewayResponse
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return false, fmt.Errorf("encode status patch: %w", err)
	}

	tag, err := s.Db.Exec(ctx,
		`UPDATE service_records
		    SET status = $3, data = data || $4::jsonb, verified_at = $5, updated_at = $5
		  WHERE collection = $1 AND reference = $2 AND status = 'pending'`,
		collection, reference, string(upd.Status), data, upd.VerifiedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update status %s: %w", reference, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = s.Db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM service_records WHERE collection = $1 AND reference = $2)",
		collection, reference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check record %s: %w", reference, err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// MarkSideEffectsApplied flags a confirmed record whose dispatchers have all run.
func (s *Store) MarkSideEffectsApplied(ctx context.Context, collection, reference string) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE service_records
		    SET side_effects_applied = TRUE,
		        data = jsonb_set(data, '{sideEffectsApplied}', 'true'::jsonb)
		  WHERE collection = $1 AND reference = $2`,
		collection, reference,
	)
	if err != nil {
		return fmt.Errorf("mark side effects %s: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindRecord looks a reference up across every collection.
func (s *Store) FindRecord(ctx context.Context, reference string) (string, *domain.ServiceRecord, error) {
	var collection string
	err := s.Db.QueryRow(ctx,
		"SELECT collection FROM service_records WHERE reference = $1", reference,
	).Scan(&collection)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, domain.ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	rec, err := s.GetRecord(ctx, collection, reference)
	return collection, rec, err
}
