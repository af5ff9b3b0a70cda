// Package billingtest provides fakes and helpers for webhook tests.
package billingtest

import (
	"context"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/platinummonkey/claimgate/pkg/billing"
)

// Sign returns a valid Stripe-Signature header for payload.
func Sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

// EventStore is an in-memory billing.EventStore.
type EventStore struct {
	mu     sync.Mutex
	events map[string]*billing.Event

	// Err, when set, is returned by RecordEvent.
	Err error
}

// NewEventStore returns an empty event store.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string]*billing.Event)}
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Status returns the stored status of an event, or "" when unknown.
func (s *EventStore) Status(id string) billing.EventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok {
		return e.Status
	}
	return ""
}

func (s *EventStore) RecordEvent(_ context.Context, id, eventType string, payload []byte) (*billing.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	e, ok := s.events[id]
	if !ok {
		e = &billing.Event{
			StripeEventID: id,
			Type:          eventType,
			Payload:       append([]byte(nil), payload...),
			Status:        billing.EventStatusReceived,
			ReceivedAt:    time.Now(),
		}
		s.events[id] = e
	}
	e.Attempts++
	out := *e
	return &out, nil
}

func (s *EventStore) GetEvent(_ context.Context, id string) (*billing.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, billing.ErrEventNotFound
	}
	out := *e
	return &out, nil
}

func (s *EventStore) MarkEvent(_ context.Context, id string, status billing.EventStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return billing.ErrEventNotFound
	}
	e.Status = status
	e.Error = reason
	if status.Done() {
		now := time.Now()
		e.ProcessedAt = &now
	}
	return nil
}

// Stripe is a canned billing.StripeClient.
type Stripe struct {
	mu        sync.Mutex
	Emails    map[string]string
	LineItems map[string][]string
	PortalURL string
	Err       error
	Calls     int
}

// NewStripe returns an empty fake.
func NewStripe() *Stripe {
	return &Stripe{Emails: make(map[string]string), LineItems: make(map[string][]string)}
}

func (s *Stripe) CustomerEmail(_ context.Context, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return "", s.Err
	}
	return s.Emails[customerID], nil
}

func (s *Stripe) CheckoutPriceIDs(_ context.Context, sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.LineItems[sessionID], nil
}

func (s *Stripe) PortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return "", s.Err
	}
	return s.PortalURL + "?customer=" + customerID, nil
}

func (s *Stripe) Ping(context.Context) error {
	return s.Err
}
