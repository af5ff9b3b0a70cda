package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/claimgate/pkg/httputil"
	"github.com/platinummonkey/claimgate/pkg/usage"
)

// paywallBody converts a quota error into the 402 body. Feature denials carry
// no limit.
func paywallBody(qe *usage.QuotaExceededError, upgradeURL string) PaywallResponse {
	body := PaywallResponse{
		Detail:     "Upgrade required",
		Code:       qe.Code,
		Plan:       qe.Tier,
		UpgradeURL: upgradeURL,
	}
	if qe.Feature != "" {
		body.Detail = fmt.Sprintf("Feature '%s' requires upgrade.", qe.Feature)
		return body
	}
	limit, remaining := qe.Limit, 0
	body.Limit = &limit
	body.Remaining = &remaining
	return body
}

// writeQuotaError writes a 402 when err is a quota denial and reports
// whether it did.
func (s *Server) writeQuotaError(w http.ResponseWriter, err error) bool {
	var qe *usage.QuotaExceededError
	if !errors.As(err, &qe) {
		return false
	}
	s.recorder.RecordQuotaDenial(qe.Code)
	httputil.WritePaymentRequired(w, paywallBody(qe, s.config.UpgradeURL))
	return true
}
