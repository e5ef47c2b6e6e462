package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"saferoute/internal/auth"
)

// SessionRequest carries a token obtained from the auth service
type SessionRequest struct {
	AccessToken string `json:"access_token"`
}

// HandleGetSession handles GET /api/v1/session
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	u := h.currentUser(r)
	if u == nil {
		h.handleUnauthorized(w)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"user": u})
}

// HandleCreateSession handles POST /api/v1/session. The token is verified
// and stored in the session cookie.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.handleValidationError(w, "Invalid request body")
		return
	}
	if req.AccessToken == "" {
		req.AccessToken = auth.TokenFromRequest(r)
	}

	u, err := h.Auth.Verify(req.AccessToken)
	if err != nil {
		zap.S().Infof("[HTTP] POST /api/v1/session: rejected err=%v", err)
		h.handleUnauthorized(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    req.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((12 * time.Hour).Seconds()),
	})
	zap.S().Infof("[HTTP] POST /api/v1/session: user=%s", u.ID)

	if h.isHTMX(r) {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"user": u})
}

// HandleDeleteSession handles DELETE /api/v1/session
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if u := h.currentUser(r); u != nil {
		h.Sessions.Delete(u.ID)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.SecureCookies,
		MaxAge:   -1,
	})
	if h.isHTMX(r) {
		w.Header().Set("HX-Redirect", "/login")
	}
	w.WriteHeader(http.StatusNoContent)
}
