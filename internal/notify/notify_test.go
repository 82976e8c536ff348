package notify

import (
	"context"
	"testing"
	"time"

	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func foodOrder(t *testing.T) (catalog.Descriptor, *domain.ServiceRecord) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	d, ok := cat.Lookup("food_order")
	require.True(t, ok)

	paid := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return d, &domain.ServiceRecord{
		Reference: "F-abc",
		UserID:    "u1",
		UserName:  "Ada <script>",
		UserEmail: "ada@example.com",
		Amount:    decimal.NewFromInt(5000),
		Items:     []domain.Item{{ItemID: "x", Name: "Jollof Rice", Quantity: 2}},
		DeliverTo: "Room 101",
		PaidAt:    &paid,
	}
}

func TestRenderReceipt(t *testing.T) {
	d, rec := foodOrder(t)
	r := NewRenderer(Contact{HotelName: "FMH Hotel", SupportEmail: "support@fmhhotel.com"})

	msg, err := r.Receipt(d, rec)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Food Order Confirmed - F-abc", msg.Subject)
	assert.Contains(t, msg.HTML, "5000.00")
	assert.Contains(t, msg.HTML, "Jollof Rice")
	assert.Contains(t, msg.HTML, "Room 101")
	assert.Contains(t, msg.HTML, "01 May 2024 10:00")
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestRenderPushes(t *testing.T) {
	d, rec := foodOrder(t)
	r := NewRenderer(Contact{ProjectID: "fmh-hotel"})

	ok := r.Success(d, rec)
	assert.Equal(t, "Payment Verified", ok.Title)
	assert.Equal(t, "u1", ok.UserID)
	assert.Equal(t, "payment_success", ok.Data["type"])
	assert.Equal(t, "fmh-hotel", ok.ProjectID)

	feed := r.AdminFeed(d, rec, "confirmed", "n1", time.Now())
	assert.Equal(t, "New Food Order", feed.Title)
	assert.Equal(t, "food.confirmed", feed.Type)
	assert.Equal(t, []string{"admin", "kitchen_staff"}, feed.TargetRoles)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Push(context.Background(), PushMessage{UserID: "u1", Title: "hi"}))
	require.NoError(t, p.SendEmail(context.Background(), EmailMessage{To: "a@b.c", Subject: "s"}))

	assert.Equal(t, 1, logs.FilterMessage("push").Len())
	assert.Equal(t, 1, logs.FilterMessage("email").Len())
}
