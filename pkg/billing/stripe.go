package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// APIClient implements StripeClient on top of the Stripe API.
type APIClient struct {
	api *client.API
}

// NewAPIClient creates a Stripe API client for the given secret key.
func NewAPIClient(secretKey string) *APIClient {
	return &APIClient{api: client.New(secretKey, nil)}
}

// CustomerEmail returns the email on a Stripe customer.
func (c *APIClient) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	customer, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("failed to get customer %s: %w", customerID, err)
	}
	return customer.Email, nil
}

// CheckoutPriceIDs lists the price ids purchased in a checkout session.
func (c *APIClient) CheckoutPriceIDs(ctx context.Context, sessionID string) ([]string, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx

	var priceIDs []string
	iter := c.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		if item := iter.LineItem(); item.Price != nil {
			priceIDs = append(priceIDs, item.Price.ID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list line items for %s: %w", sessionID, err)
	}
	return priceIDs, nil
}

// PortalSession creates a billing portal session and returns its URL.
func (c *APIClient) PortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	session, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// Ping checks that the API key is accepted.
func (c *APIClient) Ping(ctx context.Context) error {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	if _, err := c.api.Balance.Get(params); err != nil {
		return fmt.Errorf("stripe unreachable: %w", err)
	}
	return nil
}
