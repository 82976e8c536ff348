package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var expiredEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "payrecon_ledger_expired_total",
	Help: "Ledger entries removed by the cleaner",
})

type ExpiringLedger interface {
	DeleteExpired(ctx context.Context, maxChecks int, olderThan time.Time) ([]string, error)
}

// Cleaner drops ledger entries that exhausted their checks or outlived
// maxAge. The service record keeps whatever status it last had.
type Cleaner struct {
	ledger    ExpiringLedger
	maxChecks int
	maxAge    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewCleaner(ledger ExpiringLedger, maxChecks int, maxAge time.Duration, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		ledger:    ledger,
		maxChecks: maxChecks,
		maxAge:    maxAge,
		logger:    logger.Named("cleaner"),
		now:       time.Now,
	}
}

func (c *Cleaner) Run(ctx context.Context) ([]string, error) {
	log := c.logger.With(zap.String("execution_id", uuid.NewString()))

	removed, err := c.ledger.DeleteExpired(ctx, c.maxChecks, c.now().Add(-c.maxAge))
	if err != nil {
		return nil, err
	}
	expiredEntriesTotal.Add(float64(len(removed)))
	for _, ref := range removed {
		log.Info("expired pending entry", zap.String("reference", ref))
	}
	log.Info("cleanup complete", zap.Int("removed", len(removed)))
	return removed, nil
}
