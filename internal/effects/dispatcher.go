// Package effects runs the best-effort work that follows a status transition:
// stock, availability, statistics and notifications. Every effect is guarded
// by a completion marker, so repeated dispatch for one reference is safe.
package effects

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/notify"
	"go.uber.org/zap"
)

const (
	// claimTTL bounds how long a crashed dispatcher can hold an effect.
	claimTTL  = 10 * time.Minute
	markerTTL = 90 * 24 * time.Hour
)

// errInFlight means another dispatcher holds the claim and has not finished.
var errInFlight = errors.New("effect in progress elsewhere")

type Inventory interface {
	DeductStock(ctx context.Context, itemID string, qty int) (domain.StockChange, error)
}

type Availability interface {
	AddBookingDates(ctx context.Context, entries []domain.AvailabilityEntry) error
}

type Stats interface {
	IncrementBookingStats(ctx context.Context, st domain.BookingStats) error
}

type StaffDirectory interface {
	StaffByPermission(ctx context.Context, permission string) ([]domain.Staff, error)
	StaffByRoles(ctx context.Context, roles []string) ([]domain.Staff, error)
}

type AdminFeed interface {
	AddAdminNotification(ctx context.Context, n domain.AdminNotification) error
}

type Pusher interface {
	Push(ctx context.Context, msg notify.PushMessage) error
}

type Mailer interface {
	SendEmail(ctx context.Context, msg notify.EmailMessage) error
}

// Ports groups the collaborators a Dispatcher writes to.
type Ports struct {
	Inventory    Inventory
	Availability Availability
	Stats        Stats
	Staff        StaffDirectory
	Feed         AdminFeed
	Pusher       Pusher
	Mailer       Mailer
}

type Dispatcher struct {
	ports    Ports
	markers  Markers
	renderer *notify.Renderer
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(ports Ports, markers Markers, renderer *notify.Renderer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		ports:    ports,
		markers:  markers,
		renderer: renderer,
		logger:   logger.Named("effects"),
		now:      time.Now,
	}
}

// Confirmed runs the confirmation effects for a record that just reached
// success. It returns the joined *domain.SideEffectError values of every
// effect that failed; effects that already completed are skipped.
func (d *Dispatcher) Confirmed(ctx context.Context, desc catalog.Descriptor, rec *domain.ServiceRecord) error {
	var errs []error
	run := func(effect string, fn func() error) {
		if err := d.once(ctx, rec.Reference, effect, fn); err != nil {
			errs = append(errs, err)
		}
	}

	switch {
	case desc.Category == domain.CategoryBooking:
		run("availability", func() error { return d.availability(ctx, rec) })
		run("stats", func() error { return d.stats(ctx, rec) })
	case desc.Key == "food_order":
		for i, item := range rec.Items {
			run("stock:"+item.ItemID+":"+strconv.Itoa(i), func() error { return d.deduct(ctx, rec.Reference, item) })
		}
	}

	run("push.success", func() error {
		return d.ports.Pusher.Push(ctx, d.renderer.Success(desc, rec))
	})
	if rec.UserEmail != "" {
		run("email.receipt", func() error {
			msg, err := d.renderer.Receipt(desc, rec)
			if err != nil {
				return err
			}
			return d.ports.Mailer.SendEmail(ctx, msg)
		})
	}
	run("staff.confirmed", func() error { return d.alertStaff(ctx, desc, rec) })
	run("feed.confirmed", func() error {
		return d.ports.Feed.AddAdminNotification(ctx, d.renderer.AdminFeed(desc, rec, "confirmed", uuid.NewString(), d.now()))
	})

	return errors.Join(errs...)
}

// Declined records that a payment failed or was abandoned. The status write
// is the whole transition: stock, stats and notifications stay untouched.
func (d *Dispatcher) Declined(_ context.Context, desc catalog.Descriptor, rec *domain.ServiceRecord, status domain.Status) error {
	d.logger.Info("payment not completed",
		zap.String("reference", rec.Reference),
		zap.String("transaction_type", desc.Key),
		zap.String("status", string(status)),
	)
	return nil
}

// Created announces a freshly opened checkout to the user and the staff feed.
func (d *Dispatcher) Created(ctx context.Context, desc catalog.Descriptor, rec *domain.ServiceRecord) error {
	errs := []error{
		d.once(ctx, rec.Reference, "push.created", func() error {
			return d.ports.Pusher.Push(ctx, d.renderer.Creation(desc, rec))
		}),
		d.once(ctx, rec.Reference, "feed.created", func() error {
			return d.ports.Feed.AddAdminNotification(ctx, d.renderer.AdminFeed(desc, rec, "created", uuid.NewString(), d.now()))
		}),
	}
	return errors.Join(errs...)
}

// once runs fn under the marker reference:effect. A failed fn releases the
// marker so the next dispatch retries it. An effect claimed by another
// dispatcher that has not completed counts as not applied.
func (d *Dispatcher) once(ctx context.Context, reference, effect string, fn func() error) error {
	key := reference + ":" + effect
	claimed, err := d.markers.Claim(ctx, key, claimTTL)
	if err != nil {
		return d.fail(reference, effect, err)
	}
	if !claimed {
		done, err := d.markers.Completed(ctx, key)
		if err != nil {
			return d.fail(reference, effect, err)
		}
		if !done {
			return d.fail(reference, effect, errInFlight)
		}
		d.logger.Debug("effect already applied", zap.String("reference", reference), zap.String("effect", effect))
		return nil
	}
	if err := fn(); err != nil {
		if rerr := d.markers.Release(ctx, key); rerr != nil {
			d.logger.Error("release marker", zap.String("reference", reference), zap.String("effect", effect), zap.Error(rerr))
		}
		return d.fail(reference, effect, err)
	}
	if err := d.markers.Complete(ctx, key, markerTTL); err != nil {
		return d.fail(reference, effect, err)
	}
	return nil
}

func (d *Dispatcher) fail(reference, effect string, err error) error {
	serr := &domain.SideEffectError{Effect: effect, Reference: reference, Err: err}
	d.logger.Warn("side effect failed", zap.String("reference", reference), zap.String("effect", effect), zap.Error(err))
	return serr
}

func (d *Dispatcher) deduct(ctx context.Context, reference string, item domain.Item) error {
	if item.ItemID == "" || item.Quantity <= 0 {
		return nil
	}
	change, err := d.ports.Inventory.DeductStock(ctx, item.ItemID, item.Quantity)
	if errors.Is(err, domain.ErrNotFound) {
		d.logger.Warn("ordered item not on menu", zap.String("reference", reference), zap.String("item_id", item.ItemID))
		return nil
	}
	if err != nil {
		return err
	}
	if change.Tracked {
		d.logger.Info("stock deducted",
			zap.String("reference", reference),
			zap.String("item_id", item.ItemID),
			zap.Int("before", change.Before),
			zap.Int("after", change.After),
		)
	}
	return nil
}

func (d *Dispatcher) availability(ctx context.Context, rec *domain.ServiceRecord) error {
	if rec.Booking == nil {
		return fmt.Errorf("booking %s has no booking details", rec.Reference)
	}
	entries, err := BookingDates(rec.Booking, rec.Reference)
	if err != nil {
		return err
	}
	return d.ports.Availability.AddBookingDates(ctx, entries)
}

func (d *Dispatcher) stats(ctx context.Context, rec *domain.ServiceRecord) error {
	month := d.now()
	if rec.PaidAt != nil {
		month = *rec.PaidAt
	}
	var rooms []domain.Room
	if rec.Booking != nil {
		rooms = rec.Booking.SelectedRooms
	}
	return d.ports.Stats.IncrementBookingStats(ctx, domain.BookingStats{
		Month:     month,
		Amount:    rec.Amount,
		RoomTypes: RoomTypes(rooms),
		UserID:    rec.UserID,
	})
}

func (d *Dispatcher) alertStaff(ctx context.Context, desc catalog.Descriptor, rec *domain.ServiceRecord) error {
	var (
		staff []domain.Staff
		err   error
	)
	if desc.StaffPermission != "" {
		staff, err = d.ports.Staff.StaffByPermission(ctx, desc.StaffPermission)
	} else {
		staff, err = d.ports.Staff.StaffByRoles(ctx, desc.TargetRoles)
	}
	if err != nil {
		return err
	}

	var errs []error
	for _, member := range staff {
		if err := d.ports.Pusher.Push(ctx, d.renderer.Staff(desc, rec, member)); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", member.ID, err))
		}
	}
	// Partial delivery counts as done; re-sending would duplicate alerts to the staff that got one.
	if len(errs) > 0 && len(errs) == len(staff) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		d.logger.Warn("staff alert", zap.String("reference", rec.Reference), zap.Error(err))
	}
	return nil
}
