// Package app builds every component from configuration once at start-up.
// Both the API server and the reconctl CLI start from New.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/payrecon/internal/api"
	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/config"
	"github.com/punchamoorthee/payrecon/internal/effects"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/notify"
	"github.com/punchamoorthee/payrecon/internal/scheduler"
	"github.com/punchamoorthee/payrecon/internal/service"
	"github.com/punchamoorthee/payrecon/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const gatewayHTTPTimeout = 30 * time.Second

type publisher interface {
	effects.Pusher
	effects.Mailer
	Close() error
}

type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Catalog      *catalog.Catalog
	Store        *store.Store
	Gateways     *gateway.Registry
	Engine       *service.Engine
	Transactions *service.TransactionService
	Poller       *scheduler.Poller
	Cleaner      *scheduler.Cleaner

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	a.Catalog = cat

	st, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, func() error { st.Close(); return nil })

	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	markers, err := a.markers(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	pub := a.publisher()

	gateways, err := buildGateways(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Gateways = gateways

	renderer := notify.NewRenderer(notify.Contact{
		SupportEmail:  cfg.Contact.SupportEmail,
		SupportPhone:  cfg.Contact.SupportPhone,
		HotelName:     cfg.Contact.HotelName,
		HotelLocation: cfg.Contact.HotelLocation,
		ProjectID:     cfg.Contact.FCMProjectID,
	})
	dispatcher := effects.NewDispatcher(effects.Ports{
		Inventory:    st,
		Availability: st,
		Stats:        st,
		Staff:        st,
		Feed:         st,
		Pusher:       pub,
		Mailer:       pub,
	}, markers, renderer, logger)

	a.Engine = service.NewEngine(cat, st, st, dispatcher, logger)
	a.Transactions = service.NewTransactionService(cat, gateways, st, st, dispatcher, a.Engine, service.Options{
		CallbackURL:      cfg.CallbackURL,
		MaxChecks:        cfg.MaxChecks,
		ReconcileTimeout: cfg.ReconcileTimeout,
	}, logger)

	a.Poller = scheduler.NewPoller(cat, gateways, st, a.Engine, scheduler.PollerOptions{
		BatchSize:   cfg.PollBatchSize,
		Concurrency: cfg.PollConcurrency,
		MaxChecks:   cfg.MaxChecks,
		RPS:         cfg.GatewayRPS,
		Timeout:     cfg.ReconcileTimeout,
	}, logger)
	a.Cleaner = scheduler.NewCleaner(st, cfg.MaxChecks, cfg.PendingMaxAge, logger)

	logger.Info("components ready",
		zap.Strings("gateways", gateways.Names()),
		zap.String("default_gateway", gateways.Default().Name()),
		zap.Int("transaction_types", len(cat.Types())),
	)
	return a, nil
}

// Router returns the HTTP handler tree for the API server.
func (a *App) Router() *mux.Router {
	if a.Config.JWTSecret == "" {
		a.Logger.Warn("JWT_SECRET not set; client endpoints are unauthenticated")
	}
	return api.NewRouter(api.NewHandler(a.Transactions, a.Gateways, a.Logger), a.Config.JWTSecret)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close", zap.Error(err))
		}
	}
	a.closers = nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

// markers uses redis when REDIS_ADDR is set. The in-process fallback only
// deduplicates within one process.
func (a *App) markers(ctx context.Context) (effects.Markers, error) {
	if a.Config.RedisAddr == "" {
		a.Logger.Warn("REDIS_ADDR not set; side-effect markers are process-local")
		return effects.NewMemoryMarkers(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.Config.RedisAddr, err)
	}
	a.closers = append(a.closers, rdb.Close)
	return effects.NewRedisMarkers(rdb), nil
}

func (a *App) publisher() publisher {
	var pub publisher
	if len(a.Config.KafkaBrokers) == 0 {
		a.Logger.Warn("KAFKA_BROKERS not set; notifications are logged only")
		pub = notify.NewLogPublisher(a.Logger)
	} else {
		pub = notify.NewKafkaPublisher(a.Config.KafkaBrokers, a.Config.PushTopic, a.Config.EmailTopic, a.Logger)
	}
	a.closers = append(a.closers, pub.Close)
	return pub
}

func buildGateways(cfg *config.Config) (*gateway.Registry, error) {
	client := &http.Client{Timeout: gatewayHTTPTimeout}

	paystack := gateway.NewPaystack(cfg.Paystack.SecretKey, cfg.Paystack.BaseURL, client)
	flutterwave := gateway.NewFlutterwave(gateway.FlutterwaveOptions{
		Version:      cfg.Flutterwave.Version,
		SecretKey:    cfg.Flutterwave.SecretKey,
		SecretHash:   cfg.Flutterwave.SecretHash,
		ClientID:     cfg.Flutterwave.ClientID,
		ClientSecret: cfg.Flutterwave.ClientSecret,
		BaseURL:      cfg.Flutterwave.BaseURL,
		TokenURL:     cfg.Flutterwave.TokenURL,
		Client:       client,
	})
	return gateway.NewRegistry(cfg.DefaultGateway, paystack, flutterwave)
}
