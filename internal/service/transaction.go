package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultDeliverTo        = "Room 101"
	defaultReconcileTimeout = 15 * time.Second
)

// CreateRequest opens a checkout for one order.
type CreateRequest struct {
	Amount         decimal.Decimal
	UserID         string
	Email          string
	UserName       string
	DomainType     string
	Gateway        string
	DomainMetadata map[string]any
}

type CreateResult struct {
	Reference   string
	CheckoutURL string
	Gateway     string
}

// StatusView is what clients see of a record.
type StatusView struct {
	Reference       string
	TransactionType string
	Status          domain.Status
	Amount          decimal.Decimal
	PaidAt          *time.Time
	Channel         string
	// UserID owns the record; it is used for access checks, not shown.
	UserID string
}

// TransactionService implements the create, verify, status and webhook flows.
type TransactionService struct {
	catalog     *catalog.Catalog
	gateways    *gateway.Registry
	records     RecordStore
	ledger      Ledger
	effects     Effects
	engine      *Engine
	logger      *zap.Logger
	callbackURL string
	maxChecks   int
	timeout     time.Duration
	now         func() time.Time
}

type Options struct {
	CallbackURL string
	MaxChecks   int
	// ReconcileTimeout bounds one client verify or webhook reconciliation.
	ReconcileTimeout time.Duration
}

func NewTransactionService(cat *catalog.Catalog, gateways *gateway.Registry, records RecordStore, ledger Ledger, effects Effects, engine *Engine, opts Options, logger *zap.Logger) *TransactionService {
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = defaultReconcileTimeout
	}
	return &TransactionService{
		catalog:     cat,
		gateways:    gateways,
		records:     records,
		ledger:      ledger,
		effects:     effects,
		engine:      engine,
		logger:      logger.Named("transactions"),
		callbackURL: opts.CallbackURL,
		maxChecks:   opts.MaxChecks,
		timeout:     opts.ReconcileTimeout,
		now:         time.Now,
	}
}

// Create initializes a payment with the gateway, then writes the pending
// record and its ledger entry. Gateway failures are returned to the caller;
// nothing is persisted for them.
func (s *TransactionService) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	desc, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.Get(req.Gateway)
	if err != nil {
		return nil, &domain.ValidationError{Field: "gateway", Message: err.Error()}
	}

	metadata := maps.Clone(req.DomainMetadata)
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["transactionType"] = desc.Key
	metadata["userId"] = req.UserID
	metadata["userName"] = req.UserName
	if desc.ServiceType != "" {
		metadata["serviceType"] = desc.ServiceType
	}

	// Shape the record before the gateway sees the order so malformed
	// metadata never opens a checkout.
	rec, err := buildRecord(desc, "", gw.Name(), req, s.now().UTC())
	if err != nil {
		return nil, err
	}

	init, err := gw.Initialize(ctx, gateway.InitRequest{
		Email:       req.Email,
		Name:        req.UserName,
		Amount:      req.Amount,
		Metadata:    metadata,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		return nil, err
	}

	ref, err := s.catalog.Generate(desc.Key, init.Reference)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("reference", ref), zap.String("transaction_type", desc.Key), zap.String("gateway", gw.Name()))

	rec.Reference = ref
	if err := s.records.CreateRecord(ctx, desc.Collection, rec); err != nil {
		return nil, fmt.Errorf("create record %s: %w", ref, err)
	}

	err = s.ledger.Enqueue(ctx, domain.PendingEntry{
		Reference:       ref,
		UserID:          req.UserID,
		TransactionType: desc.Key,
		ServiceType:     desc.ServiceType,
		Gateway:         gw.Name(),
		CreatedAt:       rec.CreatedAt,
		MaxChecks:       s.maxChecks,
	})
	if err != nil {
		// Webhook and client verify still reach the record; only polling is lost.
		log.Error("enqueue pending entry", zap.Error(err))
	}

	if err := s.effects.Created(ctx, desc, rec); err != nil {
		sideEffectFailuresTotal.Inc()
	}
	log.Info("transaction created", zap.String("amount", req.Amount.String()))

	return &CreateResult{Reference: ref, CheckoutURL: init.CheckoutURL, Gateway: gw.Name()}, nil
}

func (s *TransactionService) validate(req CreateRequest) (catalog.Descriptor, error) {
	if !req.Amount.IsPositive() {
		return catalog.Descriptor{}, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if req.UserID == "" {
		return catalog.Descriptor{}, &domain.ValidationError{Field: "userId", Message: "required"}
	}
	if !strings.Contains(req.Email, "@") {
		return catalog.Descriptor{}, &domain.ValidationError{Field: "email", Message: "invalid address"}
	}
	desc, ok := s.catalog.Lookup(req.DomainType)
	if !ok {
		return catalog.Descriptor{}, &domain.ValidationError{Field: "domainType", Message: fmt.Sprintf("unknown type %q", req.DomainType)}
	}
	return desc, nil
}

// Verify asks the record's gateway for the current status and feeds it through
// the engine. A gateway failure or an attempt that runs out of time is not an
// error here: the record is reported as still pending and a later trigger
// retries. A success whose side effects never finished is handed back to the
// engine so they complete.
func (s *TransactionService) Verify(ctx context.Context, reference string) (*StatusView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	desc, rec, err := s.engine.Locate(ctx, reference, nil)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("reference", rec.Reference), zap.String("trigger", string(domain.TriggerClient)))

	if rec.Status.Terminal() {
		if rec.Status != domain.StatusSuccess || rec.SideEffectsApplied {
			return view(desc, rec), nil
		}
		out, err := s.engine.Reconcile(ctx, domain.Event{
			Type:      "verify",
			Reference: rec.Reference,
			Status:    string(rec.Status),
			Trigger:   domain.TriggerClient,
		})
		if err != nil {
			log.Warn("resume side effects", zap.Error(err))
			return view(desc, rec), nil
		}
		return view(out.Type, out.Record), nil
	}

	gw, err := s.gateways.Get(rec.Gateway)
	if err != nil {
		log.Error("record names unknown gateway", zap.String("gateway", rec.Gateway))
		return view(desc, rec), nil
	}

	res, err := gw.Verify(ctx, strings.TrimPrefix(rec.Reference, desc.Prefix))
	if err != nil {
		log.Warn("gateway verify failed", zap.Error(err))
		return view(desc, rec), nil
	}

	out, err := s.engine.Reconcile(ctx, domain.Event{
		Type:      "verify",
		Reference: rec.Reference,
		Status:    res.Status,
		Amount:    res.Amount,
		PaidAt:    res.PaidAt,
		Channel:   res.Channel,
		Response:  res.GatewayResponse,
		Metadata:  res.Metadata,
		Trigger:   domain.TriggerClient,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("verify timed out", zap.Duration("timeout", s.timeout))
			return view(desc, rec), nil
		}
		return nil, err
	}
	return view(out.Type, out.Record), nil
}

// Status reads a record without contacting the gateway.
func (s *TransactionService) Status(ctx context.Context, reference string) (*StatusView, error) {
	desc, rec, err := s.engine.Locate(ctx, reference, nil)
	if err != nil {
		return nil, err
	}
	return view(desc, rec), nil
}

// HandleWebhook authenticates a gateway push and reconciles it within the
// reconcile timeout. Only a *domain.SignatureError should be surfaced to the
// gateway; every other error, a timeout included, is for logging.
func (s *TransactionService) HandleWebhook(ctx context.Context, gatewayName string, rawBody []byte, signature string) error {
	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return err
	}
	if !gw.VerifyWebhookSignature(rawBody, signature) {
		return &domain.SignatureError{Gateway: gw.Name()}
	}

	ev, err := gw.ExtractEvent(rawBody)
	if err != nil {
		return err
	}
	ev.Trigger = domain.TriggerWebhook

	if domain.Resolve(ev.Status) == domain.StatusPending {
		s.logger.Debug("webhook carries no final status",
			zap.String("gateway", gw.Name()),
			zap.String("event", ev.Type),
			zap.String("reference", ev.Reference),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err = s.engine.Reconcile(ctx, *ev)
	return err
}

// IsNotFound reports whether err means the reference has no record.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func view(desc catalog.Descriptor, rec *domain.ServiceRecord) *StatusView {
	return &StatusView{
		Reference:       rec.Reference,
		TransactionType: desc.Key,
		Status:          rec.Status,
		Amount:          rec.Amount,
		PaidAt:          rec.PaidAt,
		Channel:         rec.Channel,
		UserID:          rec.UserID,
	}
}

// buildRecord shapes the pending document for its category. Booking rooms
// keep only id, name and category; media fields never reach the record.
func buildRecord(desc catalog.Descriptor, ref, gatewayName string, req CreateRequest, now time.Time) (*domain.ServiceRecord, error) {
	rec := &domain.ServiceRecord{
		Reference:       ref,
		TransactionType: desc.Key,
		Category:        desc.Category,
		ServiceType:     desc.ServiceType,
		Gateway:         gatewayName,
		UserID:          req.UserID,
		UserName:        req.UserName,
		UserEmail:       req.Email,
		Amount:          req.Amount,
		Status:          domain.StatusPending,
		ServiceStatus:   domain.ServicePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	meta := req.DomainMetadata

	if v, ok := meta["items"]; ok {
		if err := decodeField(v, &rec.Items); err != nil {
			return nil, &domain.ValidationError{Field: "domainMetadata.items", Message: err.Error()}
		}
	}
	rec.SpecialInstructions, _ = meta["specialInstructions"].(string)

	switch desc.Category {
	case domain.CategoryBooking:
		raw, ok := meta["bookingDetails"]
		if !ok {
			return nil, &domain.ValidationError{Field: "domainMetadata.bookingDetails", Message: "required for bookings"}
		}
		var details domain.BookingDetails
		if err := decodeField(raw, &details); err != nil {
			return nil, &domain.ValidationError{Field: "domainMetadata.bookingDetails", Message: err.Error()}
		}
		if details.CheckInDate == "" || details.CheckOutDate == "" || len(details.SelectedRooms) == 0 {
			return nil, &domain.ValidationError{Field: "domainMetadata.bookingDetails", Message: "check-in, check-out and rooms are required"}
		}
		rec.Booking = &details
	default:
		if desc.Key == "food_order" {
			if len(rec.Items) == 0 {
				return nil, &domain.ValidationError{Field: "domainMetadata.items", Message: "required for food orders"}
			}
			rec.DeliverTo, _ = meta["deliverTo"].(string)
			if rec.DeliverTo == "" {
				rec.DeliverTo = defaultDeliverTo
			}
		}
		if details, ok := meta["serviceDetails"].(map[string]any); ok {
			rec.ServiceDetails = details
		} else if desc.Key != "food_order" {
			rec.ServiceDetails = withoutKeys(meta, "items", "specialInstructions")
		}
	}
	return rec, nil
}

func decodeField(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func withoutKeys(m map[string]any, keys ...string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := maps.Clone(m)
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
