package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/payrecon/internal/domain"
)

// AddBookingDates unions entries into the per-date availability index.
// The (date, room, booking) key makes repeated writes no-ops.
func (s *Store) AddBookingDates(ctx context.Context, entries []domain.AvailabilityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO availability_index (date, room_id, booking_id, check_in, check_out)
			 VALUES ($1::date, $2, $3, $4, $5)
			 ON CONFLICT (date, room_id, booking_id) DO NOTHING`,
			e.Date, e.RoomID, e.BookingID, e.CheckIn, e.CheckOut,
		)
	}
	if err := s.Db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("add booking dates: %w", err)
	}
	return nil
}

// BookingsOn lists the index entries for one YYYY-MM-DD date.
func (s *Store) BookingsOn(ctx context.Context, date string) ([]domain.AvailabilityEntry, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT to_char(date, 'YYYY-MM-DD'), room_id, booking_id, check_in, check_out
		   FROM availability_index WHERE date = $1::date ORDER BY room_id, booking_id`,
		date,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AvailabilityEntry, error) {
		var e domain.AvailabilityEntry
		err := row.Scan(&e.Date, &e.RoomID, &e.BookingID, &e.CheckIn, &e.CheckOut)
		return e, err
	})
}
