package billing

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/claimgate/pkg/membership"
)

// Stripe event types handled by the processor.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
)

var (
	// ErrInvalidSignature is returned when the Stripe-Signature header does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is returned when a verified payload cannot be decoded.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrEventNotFound is returned when replaying an unknown event id.
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrNoCustomer is returned when a user has no Stripe customer.
	ErrNoCustomer = errors.New("no billing account for user")
	// ErrStripeUnavailable is returned when no Stripe API key is configured.
	ErrStripeUnavailable = errors.New("stripe API not configured")
)

// EventStatus is the processing state of a stored webhook event.
type EventStatus string

const (
	EventStatusReceived  EventStatus = "received"
	EventStatusProcessed EventStatus = "processed"
	EventStatusIgnored   EventStatus = "ignored"
	EventStatusFailed    EventStatus = "failed"
)

// Done reports whether no further processing is needed.
func (s EventStatus) Done() bool {
	return s == EventStatusProcessed || s == EventStatusIgnored
}

// Event is a stored Stripe webhook delivery.
type Event struct {
	StripeEventID string      `json:"stripe_event_id"`
	Type          string      `json:"type"`
	Payload       []byte      `json:"-"`
	Status        EventStatus `json:"status"`
	Error         string      `json:"error,omitempty"`
	Attempts      int         `json:"attempts"`
	ReceivedAt    time.Time   `json:"received_at"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
}

// EventStore persists webhook deliveries for dedup and replay.
type EventStore interface {
	// RecordEvent stores the event if new, otherwise bumps its attempt
	// count, and returns the current row.
	RecordEvent(ctx context.Context, id, eventType string, payload []byte) (*Event, error)
	GetEvent(ctx context.Context, id string) (*Event, error)
	MarkEvent(ctx context.Context, id string, status EventStatus, reason string) error
}

// StripeClient is the subset of the Stripe API the processor calls.
type StripeClient interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
	CheckoutPriceIDs(ctx context.Context, sessionID string) ([]string, error)
	PortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	Ping(ctx context.Context) error
}

// Onboarder sends the activation email for newly created members.
type Onboarder interface {
	IssueActivation(ctx context.Context, email string) error
}

// Recorder counts processed webhook events.
type Recorder interface {
	RecordWebhookEvent(eventType, outcome string)
}

// Outcome describes what happened to a delivery.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeFailed           Outcome = "failed"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeMalformed        Outcome = "malformed"
)

// Ignore reasons.
const (
	ReasonUnhandledType = "unhandled_event_type"
	ReasonNoEmail       = "no_email"
	ReasonUserNotFound  = "user_not_found"
)

// Result is returned for every acknowledged delivery.
type Result struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"type"`
	Outcome   Outcome         `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Email     string          `json:"email,omitempty"`
	Tier      membership.Tier `json:"tier,omitempty"`
	Created   bool            `json:"created,omitempty"`
}
