package api

import (
	"html/template"
	"mime"
	"net/http"

	"github.com/platinummonkey/claimgate/pkg/auth"
	"github.com/platinummonkey/claimgate/pkg/httputil"
)

const formContentType = "application/x-www-form-urlencoded"

var activateFormTmpl = template.Must(template.New("activate").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Activate your account</title></head>
<body>
<h1>Activate your account</h1>
<form method="post" action="/auth/activate">
  <input type="hidden" name="token" value="{{.Token}}">
  <label>Choose a password
    <input type="password" name="password" minlength="{{.MinLength}}" required autocomplete="new-password">
  </label>
  <button type="submit">Activate</button>
</form>
</body>
</html>
`))

// activateForm handles GET /auth/activate?token=, the target of the
// activation email. The token is consumed only when the form is posted.
func (s *Server) activateForm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.WriteBadRequest(w, "token is required")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := activateFormTmpl.Execute(w, struct {
		Token     string
		MinLength int
	}{token, auth.MinPasswordLength}); err != nil {
		s.logger.WithError(err).Error("failed to render activation form")
	}
}

// isFormPost reports whether r carries an HTML form body.
func isFormPost(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == formContentType
}
