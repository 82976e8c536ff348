package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"go.uber.org/zap"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_transitions_total",
		Help: "Terminal status transitions applied, by trigger and status",
	}, []string{"trigger", "status"})

	staleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_stale_events_total",
		Help: "Events that arrived after the record was already terminal",
	}, []string{"trigger"})

	integrityFaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_integrity_faults_total",
		Help: "Events whose reference resolved to no service record",
	})

	sideEffectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_side_effect_failures_total",
		Help: "Dispatch rounds that left at least one side effect unapplied",
	})
)

// RecordStore persists service records. UpdateStatus only moves a pending
// record and reports whether this call was the one that moved it.
type RecordStore interface {
	CreateRecord(ctx context.Context, collection string, rec *domain.ServiceRecord) error
	GetRecord(ctx context.Context, collection, reference string) (*domain.ServiceRecord, error)
	UpdateStatus(ctx context.Context, collection, reference string, upd domain.StatusUpdate) (bool, error)
	MarkSideEffectsApplied(ctx context.Context, collection, reference string) error
}

type Ledger interface {
	Enqueue(ctx context.Context, e domain.PendingEntry) error
	Dequeue(ctx context.Context, reference string) error
}

type Effects interface {
	Created(ctx context.Context, desc catalog.Descriptor, rec *domain.ServiceRecord) error
	Confirmed(ctx context.Context, desc catalog.Descriptor, rec *domain.ServiceRecord) error
	Declined(ctx context.Context, desc catalog.Descriptor, rec *domain.ServiceRecord, status domain.Status) error
}

// Outcome is the result of one pass through the engine.
type Outcome struct {
	Type    catalog.Descriptor
	Record  *domain.ServiceRecord
	Status  domain.Status
	Applied bool
}

// Engine is the single transition function shared by the client verify,
// webhook and poll paths.
type Engine struct {
	catalog *catalog.Catalog
	records RecordStore
	ledger  Ledger
	effects Effects
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(cat *catalog.Catalog, records RecordStore, ledger Ledger, effects Effects, logger *zap.Logger) *Engine {
	return &Engine{
		catalog: cat,
		records: records,
		ledger:  ledger,
		effects: effects,
		logger:  logger.Named("engine"),
		now:     time.Now,
	}
}

// Locate finds the record an event refers to. ref may be a full prefixed
// reference or the gateway's raw reference; metadata is consulted for the
// transaction type before every collection is probed. A raw reference can
// itself start with a known prefix, so a prefix match that finds nothing
// still goes through the raw lookups.
func (e *Engine) Locate(ctx context.Context, ref string, metadata map[string]any) (catalog.Descriptor, *domain.ServiceRecord, error) {
	fallback := e.catalog.Fallback()
	res := e.catalog.Resolve(ref)
	if res.Matched {
		rec, err := e.records.GetRecord(ctx, res.Type.Collection, res.Reference)
		if !errors.Is(err, domain.ErrNotFound) {
			return res.Type, rec, err
		}
		fallback = res.Type
	}

	if key, _ := metadata["transactionType"].(string); key != "" {
		if desc, ok := e.catalog.Lookup(key); ok {
			rec, err := e.records.GetRecord(ctx, desc.Collection, desc.Prefix+ref)
			if err == nil {
				return desc, rec, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return desc, nil, err
			}
		}
	}

	probed := make(map[string]bool)
	for _, c := range e.catalog.Candidates(ref) {
		id := c.Type.Collection + "/" + c.Reference
		if probed[id] {
			continue
		}
		probed[id] = true

		rec, err := e.records.GetRecord(ctx, c.Type.Collection, c.Reference)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return c.Type, nil, err
		}
		return e.refine(c.Type, rec), rec, nil
	}

	return fallback, nil, domain.ErrNotFound
}

// refine narrows a shared collection hit to the type the record was created as.
func (e *Engine) refine(desc catalog.Descriptor, rec *domain.ServiceRecord) catalog.Descriptor {
	if d, ok := e.catalog.Lookup(rec.TransactionType); ok && d.Collection == desc.Collection {
		return d
	}
	if d, ok := e.catalog.ByServiceType(rec.ServiceType); ok && d.Collection == desc.Collection {
		return d
	}
	return desc
}

// Reconcile applies ev to its record. A terminal record is never changed;
// a pending gateway status is a no-op. Side-effect failures are logged and
// never undo the transition.
func (e *Engine) Reconcile(ctx context.Context, ev domain.Event) (*Outcome, error) {
	log := e.logger.With(zap.String("trigger", string(ev.Trigger)))

	desc, rec, err := e.Locate(ctx, ev.Reference, ev.Metadata)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			integrityFaultsTotal.Inc()
			log.Error("no service record for event",
				zap.String("reference", ev.Reference),
				zap.String("transaction_type", desc.Key),
				zap.String("status", ev.Status),
			)
		}
		return nil, err
	}
	ref := rec.Reference
	log = log.With(zap.String("reference", ref), zap.String("transaction_type", desc.Key))

	if rec.Status.Terminal() {
		staleEventsTotal.WithLabelValues(string(ev.Trigger)).Inc()
		e.dequeue(ctx, log, ref)
		if rec.Status == domain.StatusSuccess && !rec.SideEffectsApplied {
			log.Info("resuming unfinished side effects")
			e.confirm(ctx, log, desc, rec)
		}
		return &Outcome{Type: desc, Record: rec, Status: rec.Status}, nil
	}

	target := domain.Resolve(ev.Status)
	if target == domain.StatusPending {
		log.Debug("gateway still pending", zap.String("status", ev.Status))
		return &Outcome{Type: desc, Record: rec, Status: domain.StatusPending}, nil
	}

	upd := domain.StatusUpdate{
		Status:          target,
		Amount:          rec.Amount,
		PaidAt:          ev.PaidAt,
		Channel:         ev.Channel,
		GatewayResponse: ev.Response,
		VerifiedAt:      e.now().UTC(),
	}
	if !ev.Amount.IsZero() {
		if !ev.Amount.Equal(rec.Amount) {
			log.Warn("gateway amount differs from order",
				zap.String("order_amount", rec.Amount.String()),
				zap.String("gateway_amount", ev.Amount.String()),
			)
		}
		upd.Amount = ev.Amount
	}

	applied, err := e.records.UpdateStatus(ctx, desc.Collection, ref, upd)
	if err != nil {
		return nil, fmt.Errorf("update status %s: %w", ref, err)
	}
	if !applied {
		// Another trigger finalized the record between our read and write.
		staleEventsTotal.WithLabelValues(string(ev.Trigger)).Inc()
		e.dequeue(ctx, log, ref)
		cur, err := e.records.GetRecord(ctx, desc.Collection, ref)
		if err != nil {
			return nil, err
		}
		log.Info("lost race to another trigger", zap.String("status", string(cur.Status)))
		return &Outcome{Type: desc, Record: cur, Status: cur.Status}, nil
	}

	transitionsTotal.WithLabelValues(string(ev.Trigger), string(target)).Inc()
	log.Info("status transition", zap.String("status", string(target)))
	e.dequeue(ctx, log, ref)

	rec.Status = upd.Status
	rec.Amount = upd.Amount
	rec.VerifiedAt = &upd.VerifiedAt
	rec.UpdatedAt = upd.VerifiedAt
	if upd.PaidAt != nil {
		rec.PaidAt = upd.PaidAt
	}
	if upd.Channel != "" {
		rec.Channel = upd.Channel
	}
	if upd.GatewayResponse != "" {
		rec.GatewayResponse = upd.GatewayResponse
	}

	if target == domain.StatusSuccess {
		e.confirm(ctx, log, desc, rec)
	} else if err := e.effects.Declined(ctx, desc, rec, target); err != nil {
		sideEffectFailuresTotal.Inc()
	}
	return &Outcome{Type: desc, Record: rec, Status: target, Applied: true}, nil
}

func (e *Engine) confirm(ctx context.Context, log *zap.Logger, desc catalog.Descriptor, rec *domain.ServiceRecord) {
	if err := e.effects.Confirmed(ctx, desc, rec); err != nil {
		sideEffectFailuresTotal.Inc()
		log.Warn("side effects incomplete", zap.Error(err))
		return
	}
	if err := e.records.MarkSideEffectsApplied(ctx, desc.Collection, rec.Reference); err != nil {
		log.Warn("mark side effects applied", zap.Error(err))
		return
	}
	rec.SideEffectsApplied = true
}

func (e *Engine) dequeue(ctx context.Context, log *zap.Logger, ref string) {
	if err := e.ledger.Dequeue(ctx, ref); err != nil {
		// The entry ages out through the cleaner; the record is already final.
		log.Warn("dequeue", zap.Error(err))
	}
}
