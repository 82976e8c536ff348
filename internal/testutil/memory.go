// Package testutil provides in-memory doubles of the store, ledger and
// notification ports for package tests.
package testutil

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/notify"
)

// Store is an in-memory document store. Its UpdateStatus has the same
// compare-and-set contract as the Postgres store.
type Store struct {
	mu       sync.Mutex
	records  map[string]map[string]domain.ServiceRecord
	ledger   map[string]domain.PendingEntry
	stock    map[string]*int
	dates    map[domain.AvailabilityEntry]struct{}
	stats    []domain.BookingStats
	staff    []domain.Staff
	feed     []domain.AdminNotification
	deducted map[string]int

	// FailStock makes DeductStock return this error when set.
	FailStock error
	// BeforeUpdate runs inside UpdateStatus before the compare-and-set.
	BeforeUpdate func()
}

func NewStore() *Store {
	return &Store{
		records:  make(map[string]map[string]domain.ServiceRecord),
		ledger:   make(map[string]domain.PendingEntry),
		stock:    make(map[string]*int),
		dates:    make(map[domain.AvailabilityEntry]struct{}),
		deducted: make(map[string]int),
	}
}

func (s *Store) CreateRecord(_ context.Context, collection string, rec *domain.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, coll := range s.records {
		if _, ok := coll[rec.Reference]; ok {
			return domain.ErrAlreadyExists
		}
	}
	if s.records[collection] == nil {
		s.records[collection] = make(map[string]domain.ServiceRecord)
	}
	s.records[collection][rec.Reference] = *rec
	return nil
}

func (s *Store) GetRecord(_ context.Context, collection, reference string) (*domain.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collection][reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) UpdateStatus(ctx context.Context, collection, reference string, upd domain.StatusUpdate) (bool, error) {
	if s.BeforeUpdate != nil {
		s.BeforeUpdate()
	}
	// Like a database driver, a cancelled context aborts before the write.
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collection][reference]
	if !ok {
		return false, domain.ErrNotFound
	}
	if rec.Status != domain.StatusPending {
		return false, nil
	}
	verified := upd.VerifiedAt
	rec.Status = upd.Status
	rec.Amount = upd.Amount
	rec.VerifiedAt = &verified
	rec.UpdatedAt = verified
	if upd.PaidAt != nil {
		rec.PaidAt = upd.PaidAt
	}
	if upd.Channel != "" {
		rec.Channel = upd.Channel
	}
	if upd.GatewayResponse != "" {
		rec.GatewayResponse = upd.GatewayResponse
	}
	s.records[collection][reference] = rec
	return true, nil
}

func (s *Store) MarkSideEffectsApplied(_ context.Context, collection, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collection][reference]
	if !ok {
		return domain.ErrNotFound
	}
	rec.SideEffectsApplied = true
	s.records[collection][reference] = rec
	return nil
}

func (s *Store) Enqueue(_ context.Context, e domain.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledger[e.Reference]; !ok {
		e.CheckCount = 0
		s.ledger[e.Reference] = e
	}
	return nil
}

func (s *Store) Dequeue(_ context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledger, reference)
	return nil
}

func (s *Store) GetEntry(_ context.Context, reference string) (*domain.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ledger[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListDue(_ context.Context, limit, maxChecks int) ([]domain.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.PendingEntry
	for _, e := range s.ledger {
		if e.CheckCount < min(e.MaxChecks, maxChecks) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].LastChecked, due[j].LastChecked
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) RecordAttempt(_ context.Context, reference string, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ledger[reference]
	if !ok {
		return nil
	}
	now := time.Now()
	e.CheckCount = min(e.CheckCount+1, e.MaxChecks)
	e.LastChecked = &now
	e.LastStatus = a.Status
	if a.Error != "" {
		e.LastError = a.Error
	}
	s.ledger[reference] = e
	return nil
}

func (s *Store) DeleteExpired(_ context.Context, maxChecks int, olderThan time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for ref, e := range s.ledger {
		if e.CheckCount >= min(e.MaxChecks, maxChecks) || e.CreatedAt.Before(olderThan) {
			removed = append(removed, ref)
			delete(s.ledger, ref)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// SetStock sets an item's tracked quantity; nil disables tracking.
func (s *Store) SetStock(itemID string, qty *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[itemID] = qty
}

func (s *Store) Stock(itemID string) *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[itemID]
}

func (s *Store) DeductStock(_ context.Context, itemID string, qty int) (domain.StockChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailStock != nil {
		return domain.StockChange{}, s.FailStock
	}
	cur, ok := s.stock[itemID]
	if !ok {
		return domain.StockChange{}, domain.ErrNotFound
	}
	if cur == nil {
		return domain.StockChange{}, nil
	}
	before := *cur
	after := max(before-qty, 0)
	*cur = after
	s.deducted[itemID] += qty
	return domain.StockChange{Tracked: true, Before: before, After: after}, nil
}

func (s *Store) AddBookingDates(_ context.Context, entries []domain.AvailabilityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.dates[e] = struct{}{}
	}
	return nil
}

func (s *Store) AvailabilityEntries() []domain.AvailabilityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AvailabilityEntry, 0, len(s.dates))
	for e := range s.dates {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out
}

func (s *Store) IncrementBookingStats(_ context.Context, st domain.BookingStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, st)
	return nil
}

func (s *Store) StatsIncrements() []domain.BookingStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.stats)
}

func (s *Store) AddStaff(members ...domain.Staff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff = append(s.staff, members...)
}

func (s *Store) StaffByPermission(_ context.Context, permission string) ([]domain.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Staff
	for _, m := range s.staff {
		if slices.Contains(m.Permissions, permission) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) StaffByRoles(_ context.Context, roles []string) ([]domain.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Staff
	for _, m := range s.staff {
		if slices.Contains(roles, m.Role) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) AddAdminNotification(_ context.Context, n domain.AdminNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.feed {
		if existing.Reference == n.Reference && existing.Type == n.Type {
			return nil
		}
	}
	s.feed = append(s.feed, n)
	return nil
}

func (s *Store) Feed() []domain.AdminNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.feed)
}

// Outbox records every push and email instead of delivering it.
type Outbox struct {
	mu     sync.Mutex
	pushes []notify.PushMessage
	emails []notify.EmailMessage

	FailPush error
}

func (o *Outbox) Push(_ context.Context, msg notify.PushMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailPush != nil {
		return o.FailPush
	}
	o.pushes = append(o.pushes, msg)
	return nil
}

func (o *Outbox) SendEmail(_ context.Context, msg notify.EmailMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails = append(o.emails, msg)
	return nil
}

func (o *Outbox) Pushes() []notify.PushMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.pushes)
}

// PushesTo returns the pushes addressed to userID.
func (o *Outbox) PushesTo(userID string) []notify.PushMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []notify.PushMessage
	for _, p := range o.pushes {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func (o *Outbox) Emails() []notify.EmailMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.emails)
}
