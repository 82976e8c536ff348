package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/payrecon/internal/domain"
)

// IncrementBookingStats applies one confirmed booking to every aggregate.
// All increments commit together or not at all.
func (s *Store) IncrementBookingStats(ctx context.Context, st domain.BookingStats) error {
	month := st.Month.UTC().Format("2006-01")
	amount := st.Amount.String()

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO rooms_and_users_stat (id, total_bookings, total_revenue) VALUES (1, 1, $1::numeric)
		 ON CONFLICT (id) DO UPDATE
		   SET total_bookings = rooms_and_users_stat.total_bookings + 1,
		       total_revenue  = rooms_and_users_stat.total_revenue + EXCLUDED.total_revenue,
		       updated_at     = now()`,
		amount,
	)
	batch.Queue(
		`INSERT INTO total_bookings (month, total_bookings, total_revenue) VALUES ($1, 1, $2::numeric)
		 ON CONFLICT (month) DO UPDATE
		   SET total_bookings = total_bookings.total_bookings + 1,
		       total_revenue  = total_bookings.total_revenue + EXCLUDED.total_revenue,
		       updated_at     = now()`,
		month, amount,
	)
	for _, roomType := range st.RoomTypes {
		batch.Queue(
			`INSERT INTO room_bookings_stat (room_type, total_bookings) VALUES ($1, 1)
			 ON CONFLICT (room_type) DO UPDATE
			   SET total_bookings = room_bookings_stat.total_bookings + 1, updated_at = now()`,
			roomType,
		)
	}
	if st.UserID != "" {
		batch.Queue(
			`INSERT INTO user_booking_stats (user_id, total_bookings, total_spent, last_booking)
			 VALUES ($1, 1, $2::numeric, now())
			 ON CONFLICT (user_id) DO UPDATE
			   SET total_bookings = user_booking_stats.total_bookings + 1,
			       total_spent    = user_booking_stats.total_spent + EXCLUDED.total_spent,
			       last_booking   = now()`,
			st.UserID, amount,
		)
	}

	err := pgx.BeginFunc(ctx, s.Db, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("increment booking stats: %w", err)
	}
	return nil
}

// MonthlyBookings reads the total_bookings counter for a YYYY-MM month.
func (s *Store) MonthlyBookings(ctx context.Context, month string) (int64, error) {
	var n int64
	err := s.Db.QueryRow(ctx, "SELECT total_bookings FROM total_bookings WHERE month = $1", month).Scan(&n)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}
