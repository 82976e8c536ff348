package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment lifecycle of a service record.
// Once a record leaves StatusPending it never changes again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether s is one of the final payment outcomes.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusAbandoned
}

// ServiceStatus is the fulfilment lifecycle, independent of payment.
type ServiceStatus string

const (
	ServicePending    ServiceStatus = "pending"
	ServiceProcessing ServiceStatus = "processing"
	ServiceCompleted  ServiceStatus = "completed"
)

// Category is the coarse grouping of transaction types.
type Category string

const (
	CategoryBooking   Category = "booking"
	CategoryService   Category = "service"
	CategoryConcierge Category = "concierge"
)

// Trigger identifies which path delivered a reconciliation event.
type Trigger string

const (
	TriggerClient  Trigger = "client"
	TriggerWebhook Trigger = "webhook"
	TriggerPoll    Trigger = "poll"
)

// Item is one ordered line of a food or service order.
type Item struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name,omitempty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Room is a room selected in a booking.
type Room struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
}

// BookingDetails holds the stay of a room booking. Dates are YYYY-MM-DD or RFC 3339.
type BookingDetails struct {
	CheckInDate   string `json:"checkInDate"`
	CheckOutDate  string `json:"checkOutDate"`
	SelectedRooms []Room `json:"selectedRooms"`
	Guests        int    `json:"guests,omitempty"`
}

// ServiceRecord is the per-domain order document keyed by transaction reference.
type ServiceRecord struct {
	Reference       string          `json:"reference"`
	TransactionType string          `json:"transactionType"`
	Category        Category        `json:"category"`
	ServiceType     string          `json:"serviceType,omitempty"`
	Gateway         string          `json:"gateway"`
	UserID          string          `json:"userId"`
	UserName        string          `json:"userName"`
	UserEmail       string          `json:"userEmail"`
	Amount          decimal.Decimal `json:"amount"`
	Status          Status          `json:"status"`
	ServiceStatus   ServiceStatus   `json:"service_status"`

	Items               []Item          `json:"items,omitempty"`
	Booking             *BookingDetails `json:"bookingDetails,omitempty"`
	DeliverTo           string          `json:"deliverTo,omitempty"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
	ServiceDetails      map[string]any  `json:"serviceDetails,omitempty"`

	Channel            string     `json:"channel,omitempty"`
	GatewayResponse    string     `json:"gateway_response,omitempty"`
	PaidAt             *time.Time `json:"paidAt,omitempty"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	SideEffectsApplied bool       `json:"sideEffectsApplied"`
	CreatedAt          time.Time  `json:"time_created"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// StatusUpdate is the terminal write applied by the reconciliation engine.
// It sets values; it never carries deltas.
type StatusUpdate struct {
	Status          Status
	Amount          decimal.Decimal
	PaidAt          *time.Time
	Channel         string
	GatewayResponse string
	VerifiedAt      time.Time
}

// PendingEntry is a ledger row for a reference that has not reached a terminal status.
type PendingEntry struct {
	Reference       string     `json:"reference"`
	UserID          string     `json:"userId"`
	TransactionType string     `json:"transactionType"`
	ServiceType     string     `json:"serviceType,omitempty"`
	Gateway         string     `json:"gateway"`
	CreatedAt       time.Time  `json:"created_at"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
	CheckCount      int        `json:"check_count"`
	MaxChecks       int        `json:"max_checks"`
	LastStatus      string     `json:"last_status,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Attempt is the outcome of one poll of a pending entry.
type Attempt struct {
	Status string
	Error  string
}

// Event is a gateway signal normalized from any trigger path.
// Status carries the gateway vocabulary (see Resolve).
type Event struct {
	Type      string          `json:"type"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Response  string          `json:"gatewayResponse,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Trigger   Trigger         `json:"trigger"`
}

// Resolve maps a gateway status or webhook event type to the internal status.
// Anything unrecognised stays pending.
func Resolve(gatewayStatus string) Status {
	switch gatewayStatus {
	case "success":
		return StatusSuccess
	case "failed", "charge.failed", "charge.failure", "invoice.payment_failed", "transfer.failed":
		return StatusFailed
	case "abandoned", "charge.abandoned":
		return StatusAbandoned
	default:
		return StatusPending
	}
}

// Staff is an admin or staff member eligible for order notifications.
type Staff struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// AvailabilityEntry books one room on one night.
type AvailabilityEntry struct {
	Date      string `json:"date"`
	RoomID    string `json:"room_id"`
	BookingID string `json:"booking_id"`
	CheckIn   string `json:"check_in"`
	CheckOut  string `json:"check_out"`
}

// BookingStats is the set of increments applied for one confirmed booking.
type BookingStats struct {
	Month     time.Time
	Amount    decimal.Decimal
	RoomTypes []string
	UserID    string
}

// StockChange reports the effect of a stock deduction.
type StockChange struct {
	Tracked bool
	Before  int
	After   int
}

// AdminNotification is an entry in the staff in-app feed.
type AdminNotification struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	TargetRoles []string        `json:"targetRoles"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// FoodItem is a menu entry. A nil Quantity means stock is not tracked.
type FoodItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    *int            `json:"quantity"`
	IsAvailable bool            `json:"isAvailable"`
	OutOfStock  bool            `json:"outOfStock"`
}
