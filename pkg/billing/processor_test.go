package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/claimgate/pkg/billing"
	"github.com/platinummonkey/claimgate/pkg/billing/billingtest"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/membership/membershiptest"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

const secret = "whsec_test"

type onboarder struct {
	mu     sync.Mutex
	emails []string
}

func (o *onboarder) IssueActivation(_ context.Context, email string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails = append(o.emails, email)
	return nil
}

type recorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *recorder) RecordWebhookEvent(eventType, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[eventType+"/"+outcome]++
}

type fixture struct {
	events    *billingtest.EventStore
	members   *membershiptest.MemStore
	stripe    *billingtest.Stripe
	onboarder *onboarder
	recorder  *recorder
	proc      *billing.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		events:    billingtest.NewEventStore(),
		members:   membershiptest.New(),
		stripe:    billingtest.NewStripe(),
		onboarder: &onboarder{},
		recorder:  &recorder{},
	}
	f.proc = f.newProcessor()
	return f
}

// newProcessor builds a processor over the same stores with a cold cache.
func (f *fixture) newProcessor() *billing.Processor {
	resolver := membership.NewResolver(map[string]membership.Tier{
		"price_starter":    membership.TierStarter,
		"price_pro":        membership.TierPro,
		"price_enterprise": membership.TierEnterprise,
	}, membership.TierFree)
	return billing.NewProcessor(f.events, f.members, resolver, f.stripe, f.onboarder, f.recorder,
		billing.Config{WebhookSecret: secret}, observability.NewLogger(observability.ErrorLevel, io.Discard))
}

func (f *fixture) deliver(t *testing.T, payload []byte) (*billing.Result, error) {
	t.Helper()
	return f.proc.HandleWebhook(context.Background(), payload, billingtest.Sign(payload, secret))
}

func event(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func checkout(email, customer string, prices ...string) map[string]interface{} {
	items := make([]interface{}, 0, len(prices))
	for _, p := range prices {
		items = append(items, map[string]interface{}{"price": map[string]interface{}{"id": p}})
	}
	obj := map[string]interface{}{
		"id":         "cs_test_1",
		"object":     "checkout.session",
		"line_items": map[string]interface{}{"object": "list", "data": items},
	}
	if email != "" {
		obj["customer_details"] = map[string]interface{}{"email": email}
	}
	if customer != "" {
		obj["customer"] = customer
	}
	return obj
}

func subscription(customer, status string, prices ...string) map[string]interface{} {
	items := make([]interface{}, 0, len(prices))
	for _, p := range prices {
		items = append(items, map[string]interface{}{"price": map[string]interface{}{"id": p}})
	}
	return map[string]interface{}{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": customer,
		"status":   status,
		"items":    map[string]interface{}{"object": "list", "data": items},
	}
}

func TestHandleWebhook_CheckoutCreatesMember(t *testing.T) {
	f := newFixture(t)

	result, err := f.deliver(t, event(t, "evt_1", billing.EventCheckoutCompleted,
		checkout("  USER@Example.com ", "cus_1", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeProcessed, result.Outcome)
	assert.Equal(t, "user@example.com", result.Email)
	assert.Equal(t, membership.TierPro, result.Tier)
	assert.True(t, result.Created)

	user, err := f.members.GetUserByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, membership.TierPro, user.Tier)
	assert.Equal(t, "cus_1", user.StripeCustomerID)

	audit := f.members.Audit()
	require.Len(t, audit, 1)
	assert.Nil(t, audit[0].OldTier)
	assert.Equal(t, membership.TierPro, audit[0].NewTier)
	assert.Equal(t, membership.ReasonCheckout, audit[0].Reason)
	assert.Equal(t, "evt_1", audit[0].StripeEventID)

	assert.Equal(t, billing.EventStatusProcessed, f.events.Status("evt_1"))
	assert.Equal(t, []string{"user@example.com"}, f.onboarder.emails)
	assert.Equal(t, 1, f.recorder.outcomes["checkout.session.completed/processed"])
}

func TestHandleWebhook_CheckoutHighestTierWins(t *testing.T) {
	tests := []struct {
		name   string
		prices []string
		want   membership.Tier
	}{
		{"single price", []string{"price_starter"}, membership.TierStarter},
		{"highest of several", []string{"price_pro", "price_enterprise", "price_starter"}, membership.TierEnterprise},
		{"unmapped ignored", []string{"price_unknown", "price_pro"}, membership.TierPro},
		{"nothing mapped", []string{"price_unknown"}, membership.TierFree},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := "evt_" + string(rune('a'+i))
			result, err := f.deliver(t, event(t, id, billing.EventCheckoutCompleted,
				checkout("buyer@example.com", "", tt.prices...)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Tier)
		})
	}
}

func TestHandleWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	payload := event(t, "evt_dup", billing.EventCheckoutCompleted, checkout("a@example.com", "", "price_pro"))

	_, err := f.deliver(t, payload)
	require.NoError(t, err)

	result, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDuplicate, result.Outcome)

	// A fresh processor has a cold cache and falls back to the stored status.
	f.proc = f.newProcessor()
	result, err = f.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDuplicate, result.Outcome)

	assert.Len(t, f.members.Audit(), 1)
	assert.Len(t, f.onboarder.emails, 1)
}

func TestReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.deliver(t, event(t, "evt_r", billing.EventCheckoutCompleted, checkout("r@example.com", "", "price_starter")))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		result, err := f.proc.Replay(ctx, "evt_r")
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeProcessed, result.Outcome)
		assert.Equal(t, membership.TierStarter, result.Tier)
	}

	assert.Len(t, f.members.Audit(), 1)
	user, err := f.members.GetUserByEmail(ctx, "r@example.com")
	require.NoError(t, err)
	assert.Equal(t, membership.TierStarter, user.Tier)

	_, err = f.proc.Replay(ctx, "evt_missing")
	assert.ErrorIs(t, err, billing.ErrEventNotFound)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	payload := event(t, "evt_sig", billing.EventCheckoutCompleted, checkout("a@example.com", "", "price_pro"))

	for _, header := range []string{"", "t=1,v1=deadbeef", billingtest.Sign(payload, "whsec_other")} {
		_, err := f.proc.HandleWebhook(context.Background(), payload, header)
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	}

	tampered := append([]byte(nil), payload...)
	header := billingtest.Sign(payload, secret)
	tampered[len(tampered)-2] = ' '
	_, err := f.proc.HandleWebhook(context.Background(), tampered, header)
	assert.ErrorIs(t, err, billing.ErrInvalidSignature)

	assert.Equal(t, 0, f.events.Len())
	assert.Empty(t, f.members.Audit())
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	payloads := map[string][]byte{
		"not json":         []byte("{nope"),
		"missing id":       []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`),
		"missing type":     []byte(`{"id":"evt_x","data":{"object":{}}}`),
		"missing data":     []byte(`{"id":"evt_x","type":"checkout.session.completed"}`),
		"undecodable body": []byte(`{"id":"evt_x","type":"customer.subscription.updated","data":{"object":{"items":"many"}}}`),
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.deliver(t, payload)
			assert.ErrorIs(t, err, billing.ErrMalformedPayload)
			assert.Equal(t, 0, f.events.Len())
			assert.Empty(t, f.members.Audit())
		})
	}
}

func TestHandleWebhook_UnknownTypeIgnored(t *testing.T) {
	f := newFixture(t)

	result, err := f.deliver(t, event(t, "evt_u", "customer.created", map[string]interface{}{"id": "cus_9"}))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, result.Outcome)
	assert.Equal(t, billing.ReasonUnhandledType, result.Reason)
	assert.Equal(t, billing.EventStatusIgnored, f.events.Status("evt_u"))
	assert.Empty(t, f.members.Audit())
}

func TestHandleWebhook_CheckoutFallbacks(t *testing.T) {
	t.Run("customer email and line items from the API", func(t *testing.T) {
		f := newFixture(t)
		f.stripe.Emails["cus_7"] = "Api@Example.com"
		f.stripe.LineItems["cs_test_1"] = []string{"price_enterprise"}

		result, err := f.deliver(t, event(t, "evt_f1", billing.EventCheckoutCompleted, checkout("", "cus_7")))
		require.NoError(t, err)
		assert.Equal(t, "api@example.com", result.Email)
		assert.Equal(t, membership.TierEnterprise, result.Tier)
	})

	t.Run("no email anywhere", func(t *testing.T) {
		f := newFixture(t)
		result, err := f.deliver(t, event(t, "evt_f2", billing.EventCheckoutCompleted, checkout("", "", "price_pro")))
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeIgnored, result.Outcome)
		assert.Equal(t, billing.ReasonNoEmail, result.Reason)
		assert.Empty(t, f.members.Audit())
	})

	t.Run("stripe API failure is retried", func(t *testing.T) {
		f := newFixture(t)
		f.stripe.Err = errors.New("stripe down")
		_, err := f.deliver(t, event(t, "evt_f3", billing.EventCheckoutCompleted, checkout("", "cus_7")))
		require.Error(t, err)
		assert.Equal(t, billing.EventStatusFailed, f.events.Status("evt_f3"))
	})
}

func TestHandleWebhook_SubscriptionUpdated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members.Add(membership.User{Email: "sub@example.com", Tier: membership.TierStarter, IsActive: true, StripeCustomerID: "cus_1", PasswordHash: "x"})

	result, err := f.deliver(t, event(t, "evt_s1", billing.EventSubscriptionUpdated, subscription("cus_1", "active", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, membership.TierPro, result.Tier)

	audit := f.members.Audit()
	require.Len(t, audit, 1)
	require.NotNil(t, audit[0].OldTier)
	assert.Equal(t, membership.TierStarter, *audit[0].OldTier)
	assert.Equal(t, membership.ReasonSubscriptionUpdated, audit[0].Reason)
	assert.Empty(t, f.onboarder.emails)

	result, err = f.deliver(t, event(t, "evt_s2", billing.EventSubscriptionUpdated, subscription("cus_1", "unpaid", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, membership.TierFree, result.Tier)

	user, err := f.members.GetUserByEmail(ctx, "sub@example.com")
	require.NoError(t, err)
	assert.Equal(t, membership.TierFree, user.Tier)
}

func TestHandleWebhook_SubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	f.members.Add(membership.User{Email: "gone@example.com", Tier: membership.TierEnterprise, IsActive: true, PasswordHash: "x"})
	f.stripe.Emails["cus_2"] = "gone@example.com"

	result, err := f.deliver(t, event(t, "evt_d1", billing.EventSubscriptionDeleted, subscription("cus_2", "canceled", "price_enterprise")))
	require.NoError(t, err)
	assert.Equal(t, membership.TierFree, result.Tier)

	audit := f.members.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, membership.ReasonSubscriptionDeleted, audit[0].Reason)
	assert.Equal(t, "cus_2", audit[0].StripeCustomerID)
}

func TestHandleWebhook_SubscriptionUnknownCustomer(t *testing.T) {
	f := newFixture(t)

	result, err := f.deliver(t, event(t, "evt_n1", billing.EventSubscriptionUpdated, subscription("cus_404", "active", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, result.Outcome)
	assert.Equal(t, billing.ReasonUserNotFound, result.Reason)
	assert.Equal(t, billing.EventStatusIgnored, f.events.Status("evt_n1"))
}

func TestHandleWebhook_InvoiceDoesNotChangeTier(t *testing.T) {
	f := newFixture(t)
	f.members.Add(membership.User{Email: "inv@example.com", Tier: membership.TierPro, IsActive: true, StripeCustomerID: "cus_3"})

	result, err := f.deliver(t, event(t, "evt_i1", billing.EventInvoicePaymentSucceeded, map[string]interface{}{
		"id": "in_1", "object": "invoice", "customer": "cus_3",
	}))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeProcessed, result.Outcome)
	assert.Equal(t, billing.EventStatusProcessed, f.events.Status("evt_i1"))
	assert.Empty(t, f.members.Audit())
}

func TestHandleWebhook_StoreFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	payload := event(t, "evt_fail", billing.EventCheckoutCompleted, checkout("f@example.com", "", "price_pro"))

	f.members.Err = errors.New("connection reset")
	_, err := f.deliver(t, payload)
	require.Error(t, err)
	assert.Equal(t, billing.EventStatusFailed, f.events.Status("evt_fail"))
	assert.Equal(t, 1, f.recorder.outcomes["checkout.session.completed/failed"])

	f.members.Err = nil
	result, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeProcessed, result.Outcome)
	assert.Len(t, f.members.Audit(), 1)
}

func TestHandleWebhook_EventStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.events.Err = errors.New("db down")

	_, err := f.deliver(t, event(t, "evt_e", billing.EventCheckoutCompleted, checkout("e@example.com", "", "price_pro")))
	require.Error(t, err)
	assert.Empty(t, f.members.Audit())
}

func TestPortalURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stripe.PortalURL = "https://billing.stripe.com/p/session"

	_, err := f.proc.PortalURL(ctx, &membership.User{Email: "x@example.com"}, "https://app.example.com")
	assert.ErrorIs(t, err, billing.ErrNoCustomer)

	url, err := f.proc.PortalURL(ctx, &membership.User{StripeCustomerID: "cus_5"}, "https://app.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session?customer=cus_5", url)
}
