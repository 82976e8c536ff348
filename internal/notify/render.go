package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/domain"
)

// Contact is the display copy stamped on user-facing messages.
type Contact struct {
	SupportEmail  string
	SupportPhone  string
	HotelName     string
	HotelLocation string
	ProjectID     string
}

// Renderer turns records into messages using the catalog's copy.
type Renderer struct {
	contact Contact
	receipt *template.Template
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#333">
<h2>{{.Title}}</h2>
<p>Hello {{.Name}},</p>
<p>We have received your payment of <strong>&#8358;{{.Amount}}</strong>.</p>
<table>
<tr><td>Reference</td><td>{{.Reference}}</td></tr>
<tr><td>Paid</td><td>{{.PaidAt}}</td></tr>
{{- if .Channel}}<tr><td>Channel</td><td>{{.Channel}}</td></tr>{{end}}
{{- if .CheckIn}}<tr><td>Check-in</td><td>{{.CheckIn}}</td></tr><tr><td>Check-out</td><td>{{.CheckOut}}</td></tr>{{end}}
{{- range .Items}}<tr><td>{{.Name}}{{if not .Name}}{{.ItemID}}{{end}}</td><td>x{{.Quantity}}</td></tr>{{end}}
{{- if .DeliverTo}}<tr><td>Deliver to</td><td>{{.DeliverTo}}</td></tr>{{end}}
</table>
<p>{{.HotelName}}, {{.HotelLocation}}<br>{{.SupportEmail}} &middot; {{.SupportPhone}}</p>
</body></html>`))

func NewRenderer(contact Contact) *Renderer {
	return &Renderer{contact: contact, receipt: receiptTemplate}
}

// Success is the user push for a confirmed payment.
func (r *Renderer) Success(d catalog.Descriptor, rec *domain.ServiceRecord) PushMessage {
	return PushMessage{
		UserID:    rec.UserID,
		Title:     "Payment Verified",
		Body:      fmt.Sprintf("%s Reference %s, amount NGN %s.", d.Notification.Success, rec.Reference, rec.Amount.StringFixed(2)),
		Data:      messageData(d, rec, "payment_success"),
		ProjectID: r.contact.ProjectID,
	}
}

// Creation is the user push sent when a checkout is opened.
func (r *Renderer) Creation(d catalog.Descriptor, rec *domain.ServiceRecord) PushMessage {
	return PushMessage{
		UserID:    rec.UserID,
		Title:     d.Notification.Creation,
		Body:      fmt.Sprintf("Complete your payment of NGN %s to confirm %s.", rec.Amount.StringFixed(2), rec.Reference),
		Data:      messageData(d, rec, "payment_created"),
		ProjectID: r.contact.ProjectID,
	}
}

// Staff is the alert sent to one staff member about a new order.
func (r *Renderer) Staff(d catalog.Descriptor, rec *domain.ServiceRecord, member domain.Staff) PushMessage {
	who := rec.UserName
	if who == "" {
		who = "A guest"
	}
	return PushMessage{
		UserID:    member.ID,
		Title:     d.AdminTitle,
		Body:      fmt.Sprintf("%s paid NGN %s (%s).", who, rec.Amount.StringFixed(2), rec.Reference),
		Data:      messageData(d, rec, "staff_order"),
		ProjectID: r.contact.ProjectID,
	}
}

// AdminFeed builds the in-app feed entry for an order at stage ("created" or "confirmed").
func (r *Renderer) AdminFeed(d catalog.Descriptor, rec *domain.ServiceRecord, stage, id string, at time.Time) domain.AdminNotification {
	title := d.AdminTitle
	if stage != "confirmed" {
		title += " (awaiting payment)"
	}
	return domain.AdminNotification{
		ID:          id,
		Type:        d.FeedType + "." + stage,
		Title:       title,
		Body:        fmt.Sprintf("%s: NGN %s by %s", rec.Reference, rec.Amount.StringFixed(2), rec.UserName),
		Reference:   rec.Reference,
		Amount:      rec.Amount,
		TargetRoles: d.TargetRoles,
		CreatedAt:   at,
	}
}

// Receipt renders the confirmation email.
func (r *Renderer) Receipt(d catalog.Descriptor, rec *domain.ServiceRecord) (EmailMessage, error) {
	view := map[string]any{
		"Title":         d.Email.Success,
		"Name":          rec.UserName,
		"Amount":        rec.Amount.StringFixed(2),
		"Reference":     rec.Reference,
		"PaidAt":        paidAt(rec),
		"Channel":       rec.Channel,
		"Items":         rec.Items,
		"DeliverTo":     rec.DeliverTo,
		"HotelName":     r.contact.HotelName,
		"HotelLocation": r.contact.HotelLocation,
		"SupportEmail":  r.contact.SupportEmail,
		"SupportPhone":  r.contact.SupportPhone,
	}
	if rec.Booking != nil {
		view["CheckIn"] = rec.Booking.CheckInDate
		view["CheckOut"] = rec.Booking.CheckOutDate
	}

	var buf bytes.Buffer
	if err := r.receipt.Execute(&buf, view); err != nil {
		return EmailMessage{}, fmt.Errorf("render receipt: %w", err)
	}
	return EmailMessage{
		To:        rec.UserEmail,
		Subject:   fmt.Sprintf("%s - %s", d.Email.Success, rec.Reference),
		HTML:      buf.String(),
		Reference: rec.Reference,
	}, nil
}

func messageData(d catalog.Descriptor, rec *domain.ServiceRecord, kind string) map[string]string {
	return map[string]string{
		"type":            kind,
		"reference":       rec.Reference,
		"transactionType": d.Key,
		"amount":          rec.Amount.String(),
	}
}

func paidAt(rec *domain.ServiceRecord) string {
	if rec.PaidAt != nil {
		return rec.PaidAt.Format("02 Jan 2006 15:04")
	}
	if rec.VerifiedAt != nil {
		return rec.VerifiedAt.Format("02 Jan 2006 15:04")
	}
	return ""
}
