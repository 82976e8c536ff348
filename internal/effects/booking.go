package effects

import (
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

const dateLayout = "2006-01-02"

// BookingDates expands a stay into one availability entry per room per night
// in the half-open range [check-in, check-out).
func BookingDates(b *domain.BookingDetails, bookingID string) ([]domain.AvailabilityEntry, error) {
	in, err := parseDate(b.CheckInDate)
	if err != nil {
		return nil, fmt.Errorf("check-in date: %w", err)
	}
	out, err := parseDate(b.CheckOutDate)
	if err != nil {
		return nil, fmt.Errorf("check-out date: %w", err)
	}
	checkIn, checkOut := in.Format(dateLayout), out.Format(dateLayout)

	var entries []domain.AvailabilityEntry
	for day := in; day.Before(out); day = day.AddDate(0, 0, 1) {
		for _, room := range b.SelectedRooms {
			entries = append(entries, domain.AvailabilityEntry{
				Date:      day.Format(dateLayout),
				RoomID:    room.ID,
				BookingID: bookingID,
				CheckIn:   checkIn,
				CheckOut:  checkOut,
			})
		}
	}
	return entries, nil
}

// RoomTypes returns the normalized stats key of each room: lower case with
// spaces replaced by underscores. Rooms without a category fall back to their name.
func RoomTypes(rooms []domain.Room) []string {
	var types []string
	for _, r := range rooms {
		t := r.Category
		if t == "" {
			t = r.Name
		}
		t = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t)), " ", "_")
		if t != "" {
			types = append(types, t)
		}
	}
	return types
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
