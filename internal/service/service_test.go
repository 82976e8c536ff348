package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/effects"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/notify"
	"github.com/punchamoorthee/payrecon/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	cat    *catalog.Catalog
	store  *testutil.Store
	outbox *testutil.Outbox
	gw     *testutil.Gateway
	engine *Engine
	svc    *TransactionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	st := testutil.NewStore()
	out := &testutil.Outbox{}
	gw := testutil.NewGateway("paystack")
	reg, err := gateway.NewRegistry("paystack", gw)
	require.NoError(t, err)

	disp := effects.NewDispatcher(effects.Ports{
		Inventory:    st,
		Availability: st,
		Stats:        st,
		Staff:        st,
		Feed:         st,
		Pusher:       out,
		Mailer:       out,
	}, effects.NewMemoryMarkers(), notify.NewRenderer(notify.Contact{}), zap.NewNop())

	eng := NewEngine(cat, st, st, disp, zap.NewNop())
	svc := NewTransactionService(cat, reg, st, st, disp, eng, Options{MaxChecks: 20}, zap.NewNop())
	return &harness{cat: cat, store: st, outbox: out, gw: gw, engine: eng, svc: svc}
}

func (h *harness) createFoodOrder(t *testing.T) string {
	t.Helper()
	qty := 10
	h.store.SetStock("x", &qty)
	res, err := h.svc.Create(context.Background(), CreateRequest{
		Amount:     decimal.NewFromInt(5000),
		UserID:     "u1",
		Email:      "u1@example.com",
		UserName:   "Ada",
		DomainType: "food_order",
		DomainMetadata: map[string]any{
			"items": []any{map[string]any{"itemId": "x", "quantity": 2}},
		},
	})
	require.NoError(t, err)
	return res.Reference
}

func (h *harness) successPushes() int {
	n := 0
	for _, p := range h.outbox.PushesTo("u1") {
		if p.Title == "Payment Verified" {
			n++
		}
	}
	return n
}

func (h *harness) record(t *testing.T, collection, ref string) *domain.ServiceRecord {
	t.Helper()
	rec, err := h.store.GetRecord(context.Background(), collection, ref)
	require.NoError(t, err)
	return rec
}

func TestCreateWritesPendingRecordAndLedgerEntry(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)
	assert.Equal(t, "F-raw1", ref)

	rec := h.record(t, "service_orders", ref)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, "Room 101", rec.DeliverTo)
	assert.Equal(t, "food_delivery", rec.ServiceType)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, 2, rec.Items[0].Quantity)

	entry, err := h.store.GetEntry(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.CheckCount)
	assert.Equal(t, 20, entry.MaxChecks)

	inits := h.gw.Inits()
	require.Len(t, inits, 1)
	assert.Equal(t, "food_order", inits[0].Metadata["transactionType"])
	assert.Equal(t, "u1", inits[0].Metadata["userId"])
}

func TestFoodOrderConfirmedByClientVerify(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)
	h.gw.SetResult("raw1", "success", decimal.NewFromInt(5000))

	view, err := h.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, view.Status)
	assert.True(t, decimal.NewFromInt(5000).Equal(view.Amount))

	rec := h.record(t, "service_orders", ref)
	assert.Equal(t, domain.StatusSuccess, rec.Status)
	assert.True(t, rec.SideEffectsApplied)
	assert.Equal(t, 8, *h.store.Stock("x"))
	assert.Equal(t, 1, h.successPushes())

	_, err = h.store.GetEntry(context.Background(), ref)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Terminal records are answered without asking the gateway again.
	_, err = h.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.Verifies("raw1"))
}

func TestWebhookThenPollDeliversOnce(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)

	body, err := json.Marshal(domain.Event{
		Type:      "charge.success",
		Reference: "raw1",
		Status:    "success",
		Amount:    decimal.NewFromInt(5000),
		Metadata:  map[string]any{"transactionType": "food_order"},
	})
	require.NoError(t, err)
	require.NoError(t, h.svc.HandleWebhook(context.Background(), "paystack", body, "whsec"))

	out, err := h.engine.Reconcile(context.Background(), domain.Event{
		Reference: ref, Status: "success", Amount: decimal.NewFromInt(5000), Trigger: domain.TriggerPoll,
	})
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, domain.StatusSuccess, out.Status)

	assert.Equal(t, 8, *h.store.Stock("x"), "stock deducted once")
	assert.Equal(t, 1, h.successPushes())
	assert.Len(t, h.outbox.Emails(), 1)
}

func TestAbandonedPayment(t *testing.T) {
	for _, status := range []string{"abandoned", "failed"} {
		t.Run(status, func(t *testing.T) {
			h := newHarness(t)
			ref := h.createFoodOrder(t)
			h.gw.SetResult("raw1", status, decimal.Zero)
			before := len(h.outbox.PushesTo("u1"))
			emails := len(h.outbox.Emails())

			view, err := h.svc.Verify(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, domain.Status(status), view.Status)

			assert.Equal(t, 10, *h.store.Stock("x"))
			assert.Empty(t, h.store.StatsIncrements())
			assert.Len(t, h.outbox.PushesTo("u1"), before, "declined payments notify nobody")
			assert.Len(t, h.outbox.Emails(), emails)
			_, err = h.store.GetEntry(context.Background(), ref)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestUnresolvableReference(t *testing.T) {
	h := newHarness(t)
	h.createFoodOrder(t)

	desc, _, err := h.engine.Locate(context.Background(), "Z-nothing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "booking", desc.Key)

	_, err = h.engine.Reconcile(context.Background(), domain.Event{Reference: "Z-nothing", Status: "success", Trigger: domain.TriggerWebhook})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 10, *h.store.Stock("x"))
	assert.Equal(t, 0, h.successPushes())
}

func TestTerminalStatusIsMonotonic(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)

	_, err := h.engine.Reconcile(context.Background(), domain.Event{Reference: ref, Status: "success", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	for _, status := range []string{"failed", "abandoned", "pending", "charge.failed"} {
		out, err := h.engine.Reconcile(context.Background(), domain.Event{Reference: ref, Status: status, Trigger: domain.TriggerPoll})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSuccess, out.Status)
		assert.False(t, out.Applied)
	}
	assert.Equal(t, domain.StatusSuccess, h.record(t, "service_orders", ref).Status)
}

func TestConcurrentTriggersSettleOnce(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)
	h.store.BeforeUpdate = func() { time.Sleep(time.Millisecond) }

	statuses := []string{"success", "failed", "success", "abandoned", "success", "failed"}
	triggers := []domain.Trigger{domain.TriggerWebhook, domain.TriggerPoll, domain.TriggerClient}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i, st := range statuses {
		i, st := i, st
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.engine.Reconcile(context.Background(), domain.Event{Reference: ref, Status: st, Trigger: triggers[i%len(triggers)]})
			assert.NoError(t, err)
			if out != nil && out.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	rec := h.record(t, "service_orders", ref)
	assert.True(t, rec.Status.Terminal())
	if rec.Status == domain.StatusSuccess {
		assert.Equal(t, 8, *h.store.Stock("x"))
		assert.Equal(t, 1, h.successPushes())
	} else {
		assert.Equal(t, 10, *h.store.Stock("x"))
		assert.Equal(t, 0, h.successPushes())
	}
	_, err := h.store.GetEntry(context.Background(), ref)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPendingGatewayStatusIsNoop(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)

	view, err := h.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, view.Status)

	_, err = h.store.GetEntry(context.Background(), ref)
	assert.NoError(t, err)
}

func TestVerifyGatewayFailureReportsPending(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)
	h.gw.SetVerifyFunc(func(context.Context, string) (*gateway.VerifyResult, error) {
		return nil, &domain.GatewayError{Gateway: "paystack", Op: "verify", Status: 503, Err: errors.New("unavailable")}
	})

	view, err := h.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, view.Status)
}

func TestCreateGatewayFailurePersistsNothing(t *testing.T) {
	h := newHarness(t)
	h.gw.FailInitialize(&domain.GatewayError{Gateway: "paystack", Op: "initialize", Err: errors.New("down")})

	_, err := h.svc.Create(context.Background(), CreateRequest{
		Amount: decimal.NewFromInt(100), UserID: "u1", Email: "u1@example.com", DomainType: "gym_session",
	})
	assert.True(t, domain.IsGatewayError(err))

	due, err := h.store.ListDue(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	base := CreateRequest{Amount: decimal.NewFromInt(100), UserID: "u1", Email: "u1@example.com", DomainType: "booking"}

	tests := []struct {
		name  string
		mod   func(r *CreateRequest)
		field string
	}{
		{"zero amount", func(r *CreateRequest) { r.Amount = decimal.Zero }, "amount"},
		{"missing user", func(r *CreateRequest) { r.UserID = "" }, "userId"},
		{"bad email", func(r *CreateRequest) { r.Email = "nope" }, "email"},
		{"unknown type", func(r *CreateRequest) { r.DomainType = "casino" }, "domainType"},
		{"booking without details", func(r *CreateRequest) {}, "domainMetadata.bookingDetails"},
		{"food order without items", func(r *CreateRequest) { r.DomainType = "food_order" }, "domainMetadata.items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mod(&req)
			_, err := h.svc.Create(context.Background(), req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Empty(t, h.gw.Inits(), "no checkout opened for invalid orders")
}

func TestBookingRecordDropsRoomMedia(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Create(context.Background(), CreateRequest{
		Amount: decimal.NewFromInt(90000), UserID: "u1", Email: "u1@example.com", DomainType: "booking",
		DomainMetadata: map[string]any{
			"bookingDetails": map[string]any{
				"checkInDate":  "2025-01-10",
				"checkOutDate": "2025-01-12",
				"selectedRooms": []any{map[string]any{
					"id": "r1", "category": "Deluxe", "imageUrls": []any{"a.jpg"}, "reviews": []any{"great"},
				}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "B-raw1", res.Reference)

	rec := h.record(t, "bookings", res.Reference)
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "imageUrls")
	assert.NotContains(t, string(data), "reviews")

	_, err = h.engine.Reconcile(context.Background(), domain.Event{Reference: res.Reference, Status: "success", Trigger: domain.TriggerPoll})
	require.NoError(t, err)
	assert.Len(t, h.store.AvailabilityEntries(), 2)
	assert.Len(t, h.store.StatsIncrements(), 1)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)
	body := []byte(`{"reference":"` + ref + `","status":"success"}`)

	err := h.svc.HandleWebhook(context.Background(), "paystack", body, "forged")
	var serr *domain.SignatureError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.StatusPending, h.record(t, "service_orders", ref).Status)
}

func TestRawReferenceResolvesByProbing(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Create(context.Background(), CreateRequest{
		Amount: decimal.NewFromInt(15000), UserID: "u1", Email: "u1@example.com", DomainType: "spa_session",
		DomainMetadata: map[string]any{"sessionDate": "2025-02-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, "S-raw1", res.Reference)

	desc, rec, err := h.engine.Locate(context.Background(), "raw1", nil)
	require.NoError(t, err)
	assert.Equal(t, "spa_session", desc.Key)
	assert.Equal(t, "S-raw1", rec.Reference)
	assert.Equal(t, "2025-02-01", rec.ServiceDetails["sessionDate"])
}

func TestUnfinishedSideEffectsResume(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)
	h.store.FailStock = errors.New("db timeout")

	out, err := h.engine.Reconcile(context.Background(), domain.Event{Reference: ref, Status: "success", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.False(t, h.record(t, "service_orders", ref).SideEffectsApplied)
	assert.Equal(t, 10, *h.store.Stock("x"))

	h.store.FailStock = nil
	_, err = h.engine.Reconcile(context.Background(), domain.Event{Reference: ref, Status: "success", Trigger: domain.TriggerPoll})
	require.NoError(t, err)

	assert.True(t, h.record(t, "service_orders", ref).SideEffectsApplied)
	assert.Equal(t, 8, *h.store.Stock("x"))
	assert.Equal(t, 1, h.successPushes())
}

func TestStatusIsReadOnly(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)
	h.gw.SetResult("raw1", "success", decimal.NewFromInt(5000))

	view, err := h.svc.Status(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.Equal(t, 0, h.gw.Verifies("raw1"))

	_, err = h.svc.Status(context.Background(), "F-unknown")
	assert.True(t, IsNotFound(err))
}

func TestVerifyTimeoutLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t)
	h.svc.timeout = 20 * time.Millisecond
	ref := h.createFoodOrder(t)

	var hadDeadline bool
	h.gw.SetVerifyFunc(func(ctx context.Context, _ string) (*gateway.VerifyResult, error) {
		_, hadDeadline = ctx.Deadline()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	view, err := h.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, hadDeadline)
	assert.Equal(t, domain.StatusPending, view.Status)

	entry, err := h.store.GetEntry(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.CheckCount)
	assert.Equal(t, domain.StatusPending, h.record(t, "service_orders", ref).Status)
}

func TestVerifyTimeoutDuringStatusWrite(t *testing.T) {
	h := newHarness(t)
	h.svc.timeout = 20 * time.Millisecond
	ref := h.createFoodOrder(t)
	h.gw.SetResult("raw1", "success", decimal.NewFromInt(5000))
	h.store.BeforeUpdate = func() { time.Sleep(50 * time.Millisecond) }

	view, err := h.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, view.Status)

	_, err = h.store.GetEntry(context.Background(), ref)
	assert.NoError(t, err)
	assert.Equal(t, 10, *h.store.Stock("x"))
}

func TestWebhookTimeoutLeavesRecordPending(t *testing.T) {
	h := newHarness(t)
	h.svc.timeout = 20 * time.Millisecond
	ref := h.createFoodOrder(t)
	h.store.BeforeUpdate = func() { time.Sleep(50 * time.Millisecond) }

	body := []byte(`{"reference":"` + ref + `","status":"success"}`)
	err := h.svc.HandleWebhook(context.Background(), "paystack", body, "whsec")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, domain.StatusPending, h.record(t, "service_orders", ref).Status)
	entry, err := h.store.GetEntry(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.CheckCount)
}

func TestVerifyFinishesFailedSideEffects(t *testing.T) {
	h := newHarness(t)
	ref := h.createFoodOrder(t)
	h.gw.SetResult("raw1", "success", decimal.NewFromInt(5000))
	h.outbox.FailPush = errors.New("fcm unavailable")

	view, err := h.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, view.Status)
	assert.False(t, h.record(t, "service_orders", ref).SideEffectsApplied)
	assert.Equal(t, 0, h.successPushes())

	h.outbox.FailPush = nil
	view, err = h.svc.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, view.Status)

	assert.True(t, h.record(t, "service_orders", ref).SideEffectsApplied)
	assert.Equal(t, 1, h.successPushes())
	assert.Equal(t, 8, *h.store.Stock("x"), "stock is not deducted twice")
	assert.Equal(t, 1, h.gw.Verifies("raw1"), "the gateway is not asked again")
}

func TestRawReferenceWithKnownPrefix(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	require.NoError(t, h.store.CreateRecord(context.Background(), "service_orders", &domain.ServiceRecord{
		Reference:       "F-C-77",
		TransactionType: "food_order",
		ServiceType:     "food_delivery",
		Gateway:         "paystack",
		UserID:          "u1",
		Amount:          decimal.NewFromInt(2500),
		Status:          domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}))

	desc, rec, err := h.engine.Locate(context.Background(), "C-77", nil)
	require.NoError(t, err)
	assert.Equal(t, "food_order", desc.Key)
	assert.Equal(t, "F-C-77", rec.Reference)

	desc, rec, err = h.engine.Locate(context.Background(), "C-77", map[string]any{"transactionType": "food_order"})
	require.NoError(t, err)
	assert.Equal(t, "food_order", desc.Key)
	assert.Equal(t, "F-C-77", rec.Reference)

	desc, _, err = h.engine.Locate(context.Background(), "C-missing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "concierge_request", desc.Key)
}
