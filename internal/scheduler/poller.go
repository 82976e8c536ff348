// Package scheduler drives the periodic paths of reconciliation: polling
// pending ledger entries against their gateway and aging out entries that
// will never settle.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	pollChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_poll_checks_total",
		Help: "Ledger entries checked by the poller, by result",
	}, []string{"result"})

	pollBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payrecon_poll_batch_duration_seconds",
		Help:    "Wall time of one poll batch",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
	})
)

type result string

const (
	resultSettled  result = "settled"
	resultPending  result = "pending"
	resultFailed   result = "failed"
	resultTimedOut result = "timed_out"
)

// PendingLedger is the part of the ledger the poller reads and annotates.
type PendingLedger interface {
	ListDue(ctx context.Context, limit, maxChecks int) ([]domain.PendingEntry, error)
	RecordAttempt(ctx context.Context, reference string, a domain.Attempt) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, ev domain.Event) (*service.Outcome, error)
}

type PollerOptions struct {
	BatchSize   int
	Concurrency int
	MaxChecks   int
	// RPS caps gateway verify calls per second across the batch. Zero means unlimited.
	RPS     float64
	Timeout time.Duration
}

// Summary aggregates one poll batch.
type Summary struct {
	ExecutionID string
	Checked     int64
	Settled     int64
	Pending     int64
	Failed      int64
	TimedOut    int64
}

type Poller struct {
	catalog  *catalog.Catalog
	gateways *gateway.Registry
	ledger   PendingLedger
	engine   Reconciler
	limiter  *rate.Limiter
	opts     PollerOptions
	logger   *zap.Logger
}

func NewPoller(cat *catalog.Catalog, gateways *gateway.Registry, ledger PendingLedger, engine Reconciler, opts PollerOptions, logger *zap.Logger) *Poller {
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Poller{
		catalog:  cat,
		gateways: gateways,
		ledger:   ledger,
		engine:   engine,
		limiter:  rate.NewLimiter(limit, max(1, int(opts.RPS))),
		opts:     opts,
		logger:   logger.Named("poller"),
	}
}

// Run checks one batch of due entries. A failing entry never aborts the
// batch; the returned error is only for a failure to read the ledger.
func (p *Poller) Run(ctx context.Context) (*Summary, error) {
	timer := prometheus.NewTimer(pollBatchDuration)
	defer timer.ObserveDuration()

	sum := &Summary{ExecutionID: uuid.NewString()}
	log := p.logger.With(zap.String("execution_id", sum.ExecutionID))

	due, err := p.ledger.ListDue(ctx, p.opts.BatchSize, p.opts.MaxChecks)
	if err != nil {
		return sum, err
	}
	if len(due) == 0 {
		log.Debug("nothing due")
		return sum, nil
	}

	var settled, pending, failed, timedOut atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)

	for _, entry := range due {
		entry := entry
		g.Go(func() error {
			if err := p.limiter.Wait(ctx); err != nil {
				timedOut.Add(1)
				return nil
			}
			r := p.check(ctx, log, entry)
			pollChecksTotal.WithLabelValues(string(r)).Inc()
			switch r {
			case resultSettled:
				settled.Add(1)
			case resultPending:
				pending.Add(1)
			case resultFailed:
				failed.Add(1)
			case resultTimedOut:
				timedOut.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Checked = int64(len(due))
	sum.Settled = settled.Load()
	sum.Pending = pending.Load()
	sum.Failed = failed.Load()
	sum.TimedOut = timedOut.Load()

	log.Info("poll batch complete",
		zap.Int64("checked", sum.Checked),
		zap.Int64("settled", sum.Settled),
		zap.Int64("pending", sum.Pending),
		zap.Int64("failed", sum.Failed),
		zap.Int64("timed_out", sum.TimedOut),
	)
	return sum, nil
}

// check verifies one entry. Attempts are recorded against ctx rather than the
// per-entry context so a slow gateway does not also lose the bookkeeping.
// A timed-out entry is left untouched and retried on the next batch.
func (p *Poller) check(ctx context.Context, log *zap.Logger, e domain.PendingEntry) result {
	log = log.With(zap.String("reference", e.Reference), zap.String("gateway", e.Gateway))

	ectx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	gw, err := p.gateways.Get(e.Gateway)
	if err != nil {
		p.attempt(ctx, log, e.Reference, domain.Attempt{Error: err.Error()})
		return resultFailed
	}

	res, err := gw.Verify(ectx, p.catalog.Resolve(e.Reference).RawRef)
	if err != nil {
		if ectx.Err() != nil {
			log.Warn("verify timed out")
			return resultTimedOut
		}
		log.Warn("verify failed", zap.Error(err))
		p.attempt(ctx, log, e.Reference, domain.Attempt{Error: err.Error()})
		return resultFailed
	}

	out, err := p.engine.Reconcile(ectx, domain.Event{
		Type:      "poll",
		Reference: e.Reference,
		Status:    res.Status,
		Amount:    res.Amount,
		PaidAt:    res.PaidAt,
		Channel:   res.Channel,
		Response:  res.GatewayResponse,
		Metadata:  res.Metadata,
		Trigger:   domain.TriggerPoll,
	})
	switch {
	case err == nil:
	case ectx.Err() != nil:
		log.Warn("reconcile timed out")
		return resultTimedOut
	case errors.Is(err, domain.ErrNotFound):
		p.attempt(ctx, log, e.Reference, domain.Attempt{Status: res.Status, Error: "service record not found"})
		return resultFailed
	default:
		log.Error("reconcile failed", zap.Error(err))
		p.attempt(ctx, log, e.Reference, domain.Attempt{Status: res.Status, Error: err.Error()})
		return resultFailed
	}

	if out.Status == domain.StatusPending {
		p.attempt(ctx, log, e.Reference, domain.Attempt{Status: res.Status})
		return resultPending
	}
	return resultSettled
}

func (p *Poller) attempt(ctx context.Context, log *zap.Logger, ref string, a domain.Attempt) {
	if err := p.ledger.RecordAttempt(ctx, ref, a); err != nil {
		log.Warn("record attempt", zap.Error(err))
	}
}
