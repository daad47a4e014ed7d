package httpapi

import (
	"net/http"
)

// oauthStart redirects the browser to the provider's consent screen:
// GET /oauth/start?source=<kind> (spec §6).
func (s *Server) oauthStart(w http.ResponseWriter, r *http.Request) {
	sourceKind := r.URL.Query().Get("source")
	if sourceKind == "" {
		writeError(w, http.StatusBadRequest, errMissingSourceParam)
		return
	}
	authorizeURL, err := s.oauth.AuthorizeURL(r.Context(), sourceKind)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// oauthCallback completes the authorization code grant:
// GET /oauth/callback?code=&state= (spec §6).
func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, errMissingCallbackParams)
		return
	}
	redirectTo, _, err := s.oauth.Callback(r.Context(), code, state)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	errMissingSourceParam    sentinelError = "source query parameter is required"
	errMissingCallbackParams sentinelError = "code and state query parameters are required"
)
