// Package billing ingests Stripe webhooks and turns them into membership
// tier changes.
//
// Every delivery is signature-checked, stored in the webhook event log and
// deduplicated by Stripe event id. The tier is always recomputed from the
// event payload and written as a plain set, so retries and replays converge
// on the same state and never add a second audit row.
//
// Handled event types:
//
//	checkout.session.completed       create or upgrade the member
//	customer.subscription.updated    re-resolve the tier from subscription items
//	customer.subscription.deleted    downgrade to the default tier
//	invoice.payment_succeeded        recorded, no tier change
//
// Anything else is acknowledged and marked ignored.
package billing
