package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

const recentEventCacheSize = 1024

// Config holds the processor settings.
type Config struct {
	WebhookSecret string
}

// Processor verifies Stripe webhooks and applies the resulting tier changes.
type Processor struct {
	events    EventStore
	members   membership.Store
	resolver  *membership.Resolver
	stripe    StripeClient
	onboarder Onboarder
	recorder  Recorder
	config    Config
	recent    *lru.Cache[string, struct{}]
	logger    *observability.Logger
}

// NewProcessor creates a processor. stripe, onboarder and recorder may be nil.
func NewProcessor(events EventStore, members membership.Store, resolver *membership.Resolver, stripe StripeClient, onboarder Onboarder, recorder Recorder, config Config, logger *observability.Logger) *Processor {
	recent, _ := lru.New[string, struct{}](recentEventCacheSize)
	return &Processor{
		events:    events,
		members:   members,
		resolver:  resolver,
		stripe:    stripe,
		onboarder: onboarder,
		recorder:  recorder,
		config:    config,
		recent:    recent,
		logger:    logger.WithField("component", "billing"),
	}
}

// HandleWebhook verifies, deduplicates and processes one delivery.
func (p *Processor) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Result, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, p.config.WebhookSecret, webhook.DefaultTolerance); err != nil {
		p.record("unknown", OutcomeInvalidSignature)
		p.logger.WithError(err).Warn("rejected webhook with invalid signature")
		return nil, ErrInvalidSignature
	}

	event, err := parseEvent(payload)
	if err != nil {
		p.record("unknown", OutcomeMalformed)
		return nil, err
	}
	eventType := string(event.Type)

	if p.recent.Contains(event.ID) {
		p.record(eventType, OutcomeDuplicate)
		return &Result{EventID: event.ID, EventType: eventType, Outcome: OutcomeDuplicate}, nil
	}

	stored, err := p.events.RecordEvent(ctx, event.ID, eventType, payload)
	if err != nil {
		p.record(eventType, OutcomeFailed)
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	if stored.Status.Done() {
		p.recent.Add(event.ID, struct{}{})
		p.record(eventType, OutcomeDuplicate)
		return &Result{EventID: event.ID, EventType: eventType, Outcome: OutcomeDuplicate}, nil
	}

	return p.process(ctx, event)
}

// Replay reprocesses a stored event without signature verification or the
// duplicate short-circuit.
func (p *Processor) Replay(ctx context.Context, eventID string) (*Result, error) {
	stored, err := p.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	event, err := parseEvent(stored.Payload)
	if err != nil {
		return nil, err
	}
	p.logger.WithField("event_id", eventID).Info("replaying webhook event")
	return p.process(ctx, event)
}

// PortalURL creates a Stripe billing portal session for the user.
func (p *Processor) PortalURL(ctx context.Context, user *membership.User, returnURL string) (string, error) {
	if user.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}
	if p.stripe == nil {
		return "", ErrStripeUnavailable
	}
	url, err := p.stripe.PortalSession(ctx, user.StripeCustomerID, returnURL)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return url, nil
}

func parseEvent(payload []byte) (*stripe.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.ID == "" || event.Type == "" || event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing id, type or data", ErrMalformedPayload)
	}

	var target interface{}
	switch event.Type {
	case EventCheckoutCompleted:
		target = &stripe.CheckoutSession{}
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		target = &stripe.Subscription{}
	case EventInvoicePaymentSucceeded:
		target = &stripe.Invoice{}
	default:
		return &event, nil
	}
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &event, nil
}

// process dispatches a parsed event and records its final status.
func (p *Processor) process(ctx context.Context, event *stripe.Event) (*Result, error) {
	eventType := string(event.Type)
	log := p.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
	})

	result, err := p.dispatch(ctx, event)
	if err != nil {
		log.WithError(err).Error("failed to process webhook event")
		if markErr := p.events.MarkEvent(ctx, event.ID, EventStatusFailed, err.Error()); markErr != nil {
			log.WithError(markErr).Error("failed to mark webhook event failed")
		}
		p.record(eventType, OutcomeFailed)
		return nil, err
	}

	result.EventID = event.ID
	result.EventType = eventType
	switch result.Outcome {
	case OutcomeIgnored:
		if err := p.events.MarkEvent(ctx, event.ID, EventStatusIgnored, result.Reason); err != nil {
			return nil, fmt.Errorf("failed to mark event ignored: %w", err)
		}
		log.WithField("reason", result.Reason).Info("webhook event ignored")
	case OutcomeProcessed:
		// Tier changes already marked the event inside ApplyChange; marking
		// again is a no-op.
		if err := p.events.MarkEvent(ctx, event.ID, EventStatusProcessed, ""); err != nil {
			return nil, fmt.Errorf("failed to mark event processed: %w", err)
		}
		log.WithField("email", result.Email).Info("webhook event processed")
	}
	p.recent.Add(event.ID, struct{}{})
	p.record(eventType, result.Outcome)
	return result, nil
}

func (p *Processor) dispatch(ctx context.Context, event *stripe.Event) (*Result, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return p.handleCheckout(ctx, event, &session)

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return p.handleSubscription(ctx, event, &sub)

	case EventInvoicePaymentSucceeded:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p.handleInvoice(ctx, &invoice)
		return &Result{Outcome: OutcomeProcessed}, nil

	default:
		return &Result{Outcome: OutcomeIgnored, Reason: ReasonUnhandledType}, nil
	}
}

func (p *Processor) handleCheckout(ctx context.Context, event *stripe.Event, session *stripe.CheckoutSession) (*Result, error) {
	customerID := customerIDOf(session.Customer)

	email := ""
	if session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		email = session.CustomerEmail
	}
	if email == "" && customerID != "" {
		var err error
		if email, err = p.customerEmail(ctx, customerID); err != nil {
			return nil, err
		}
	}
	email = membership.NormalizeEmail(email)
	if email == "" {
		return &Result{Outcome: OutcomeIgnored, Reason: ReasonNoEmail}, nil
	}

	var priceIDs []string
	if session.LineItems != nil {
		for _, item := range session.LineItems.Data {
			if item != nil && item.Price != nil {
				priceIDs = append(priceIDs, item.Price.ID)
			}
		}
	}
	if len(priceIDs) == 0 && p.stripe != nil && session.ID != "" {
		var err error
		if priceIDs, err = p.stripe.CheckoutPriceIDs(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("failed to list checkout line items: %w", err)
		}
	}

	return p.apply(ctx, event, membership.Change{
		Email:            email,
		Tier:             p.resolver.Resolve(priceIDs),
		StripeCustomerID: customerID,
		Reason:           membership.ReasonCheckout,
	})
}

func (p *Processor) handleSubscription(ctx context.Context, event *stripe.Event, sub *stripe.Subscription) (*Result, error) {
	customerID := customerIDOf(sub.Customer)

	user, err := p.findCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		reason := ReasonUserNotFound
		if customerID == "" {
			reason = ReasonNoEmail
		}
		return &Result{Outcome: OutcomeIgnored, Reason: reason}, nil
	}

	change := membership.Change{
		Email:            user.Email,
		StripeCustomerID: customerID,
	}
	if event.Type == EventSubscriptionDeleted {
		change.Tier = p.resolver.DefaultTier()
		change.Reason = membership.ReasonSubscriptionDeleted
	} else {
		change.Tier = p.subscriptionTier(sub)
		change.Reason = membership.ReasonSubscriptionUpdated
	}
	return p.apply(ctx, event, change)
}

func (p *Processor) handleInvoice(ctx context.Context, invoice *stripe.Invoice) {
	customerID := customerIDOf(invoice.Customer)
	if customerID == "" {
		return
	}
	user, err := p.members.GetUserByCustomerID(ctx, customerID)
	if err != nil {
		return
	}
	p.logger.WithFields(map[string]interface{}{
		"email":       user.Email,
		"customer_id": customerID,
		"tier":        user.Tier.String(),
	}).Info("invoice paid")
}

func (p *Processor) subscriptionTier(sub *stripe.Subscription) membership.Tier {
	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired, stripe.SubscriptionStatusUnpaid:
		return p.resolver.DefaultTier()
	}
	var priceIDs []string
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				priceIDs = append(priceIDs, item.Price.ID)
			}
		}
	}
	return p.resolver.Resolve(priceIDs)
}

// findCustomer looks a user up by customer id, falling back to the Stripe
// customer's email. A nil user means nobody matched.
func (p *Processor) findCustomer(ctx context.Context, customerID string) (*membership.User, error) {
	if customerID == "" {
		return nil, nil
	}
	user, err := p.members.GetUserByCustomerID(ctx, customerID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, membership.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to load user by customer: %w", err)
	}

	email, err := p.customerEmail(ctx, customerID)
	if err != nil || email == "" {
		return nil, err
	}
	user, err = p.members.GetUserByEmail(ctx, email)
	if errors.Is(err, membership.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user by email: %w", err)
	}
	return user, nil
}

func (p *Processor) customerEmail(ctx context.Context, customerID string) (string, error) {
	if p.stripe == nil {
		return "", nil
	}
	email, err := p.stripe.CustomerEmail(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch stripe customer: %w", err)
	}
	return membership.NormalizeEmail(email), nil
}

func (p *Processor) apply(ctx context.Context, event *stripe.Event, change membership.Change) (*Result, error) {
	change.EventID = event.ID
	change.EventType = string(event.Type)

	applied, err := p.members.ApplyChange(ctx, change)
	if err != nil {
		return nil, fmt.Errorf("failed to apply tier change: %w", err)
	}

	if applied.Audited && !applied.User.HasPassword() && p.onboarder != nil {
		if err := p.onboarder.IssueActivation(ctx, applied.User.Email); err != nil {
			p.logger.WithError(err).WithField("email", applied.User.Email).Error("failed to issue activation")
		}
	}

	return &Result{
		Outcome: OutcomeProcessed,
		Email:   applied.User.Email,
		Tier:    applied.User.Tier,
		Created: applied.Created,
	}, nil
}

func (p *Processor) record(eventType string, outcome Outcome) {
	if p.recorder != nil {
		p.recorder.RecordWebhookEvent(eventType, string(outcome))
	}
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
