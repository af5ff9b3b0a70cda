package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/platinummonkey/claimgate/pkg/billing"
	"github.com/platinummonkey/claimgate/pkg/httputil"
)

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// stripeWebhook handles POST /webhook/stripe
func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		httputil.WriteBadRequest(w, "Unable to read payload")
		return
	}

	result, err := s.services.Billing.HandleWebhook(r.Context(), payload, r.Header.Get(StripeSignatureHeader))
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		httputil.WriteUnauthorized(w, "Invalid signature")
	case errors.Is(err, billing.ErrMalformedPayload):
		httputil.WriteBadRequest(w, "Malformed payload")
	case err != nil:
		s.internalError(w, r, err, "webhook processing failed")
	default:
		httputil.WriteSuccess(w, result)
	}
}

// replayWebhook handles POST /internal/replay-webhook
func (s *Server) replayWebhook(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.StripeEventID, "stripe_event_id") {
		return
	}

	result, err := s.services.Billing.Replay(r.Context(), req.StripeEventID)
	switch {
	case errors.Is(err, billing.ErrEventNotFound):
		httputil.WriteNotFoundError(w, "Event not found")
	case errors.Is(err, billing.ErrMalformedPayload):
		httputil.WriteBadRequest(w, "Stored payload is malformed")
	case err != nil:
		s.internalError(w, r, err, "webhook replay failed")
	default:
		httputil.WriteSuccess(w, ReplayResponse{Status: "replayed", Result: result})
	}
}
