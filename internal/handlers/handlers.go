package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"html/template"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"saferoute/internal/auth"
	"saferoute/internal/contacts"
	"saferoute/internal/database"
	"saferoute/internal/feedback"
	"saferoute/internal/geocoding"
	"saferoute/internal/mapview"
	"saferoute/internal/models"
	"saferoute/internal/notify"
	"saferoute/internal/routing"
)

// TemplateSet holds base templates and page templates separately
type TemplateSet struct {
	Base  *template.Template
	Pages map[string]string
	Funcs template.FuncMap
}

// MapSettings is passed through to the client map
type MapSettings struct {
	TileURL     string              `json:"tile_url"`
	Attribution string              `json:"attribution"`
	Zones       []models.SafetyZone `json:"zones"`
}

// Handler provides common handler utilities and dependencies
type Handler struct {
	DB        database.DataStore
	Geocoder  geocoding.Geocoder
	Auth      *auth.Verifier
	Sessions  *SessionStore
	Contacts  *contacts.Service
	Feedback  *feedback.Service
	SOS       *notify.Dispatcher
	Map       MapSettings
	Templates *TemplateSet
	// SecureCookies marks the session cookie Secure
	SecureCookies bool
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// isHTMX checks if the request is an htmx request
func (h *Handler) isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	h.writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func (h *Handler) writeAlert(w http.ResponseWriter, status int, class, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<div class="alert %s">%s</div>`, class, html.EscapeString(message))
}

// handleNotFound handles 404 errors
func (h *Handler) handleNotFound(w http.ResponseWriter, message string) {
	h.writeError(w, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// handleValidationError handles 400 errors
func (h *Handler) handleValidationError(w http.ResponseWriter, message string) {
	h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

// handleValidationErrorHTMX handles 400 errors with htmx support
func (h *Handler) handleValidationErrorHTMX(w http.ResponseWriter, r *http.Request, message string) {
	if h.isHTMX(r) {
		h.writeAlert(w, http.StatusBadRequest, "alert-warning", message)
		return
	}
	h.handleValidationError(w, message)
}

func (h *Handler) handleUnauthorized(w http.ResponseWriter) {
	h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Please sign in to continue.", nil)
}

// handleGeocodingError handles 422 errors for lookup misses and 502 for upstream failures
func (h *Handler) handleGeocodingError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusUnprocessableEntity
	var gerr *geocoding.ErrGeocodingFailed
	if errors.As(err, &gerr) {
		status = http.StatusBadGateway
	}
	var nf *mapview.ErrLocationNotFound
	if errors.As(err, &nf) {
		status = http.StatusUnprocessableEntity
	}
	if h.isHTMX(r) {
		h.writeAlert(w, status, "alert-warning", err.Error())
		return
	}
	h.writeError(w, status, "GEOCODING_FAILED", err.Error(), nil)
}

// handleRoutingError handles 422 errors for routing failures
func (h *Handler) handleRoutingError(w http.ResponseWriter, r *http.Request, err error) {
	message := err.Error()
	var details interface{}
	var rerr *routing.ErrRoutingFailed
	if errors.As(err, &rerr) {
		message = "Could not calculate a route. Please try again."
		details = map[string]interface{}{"reason": rerr.Reason, "source": rerr.Source}
	}
	if h.isHTMX(r) {
		h.writeAlert(w, http.StatusUnprocessableEntity, "alert-error", message)
		return
	}
	h.writeError(w, http.StatusUnprocessableEntity, "ROUTING_FAILED", message, details)
}

// handleInternalError handles 500 errors
func (h *Handler) handleInternalError(w http.ResponseWriter, err error) {
	zap.S().Errorf("[ERROR] Internal error: %v", err)
	h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An error occurred. Please try again.", nil)
}

// checkNotFound checks if an error is a not found error
func (h *Handler) checkNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}

// decodeBody reads a JSON body, or form values into the map fields for htmx posts
func (h *Handler) decodeBody(r *http.Request, v interface{}) error {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/x-www-form-urlencoded") || strings.Contains(ct, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return err
		}
		flat := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			flat[k] = r.PostForm.Get(k)
		}
		data, err := json.Marshal(flat)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, v)
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// renderTemplate renders an HTML template
func (h *Handler) renderTemplate(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	// Always clone to avoid "cannot Clone after executed" error
	tmpl, err := h.Templates.Base.Clone()
	if err != nil {
		zap.S().Errorf("[ERROR] Template clone error: template=%s err=%v", name, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if pageContent, ok := h.Templates.Pages[name]; ok {
		if _, err = tmpl.New(name).Parse(pageContent); err != nil {
			zap.S().Errorf("[ERROR] Template parse error: template=%s err=%v", name, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
			zap.S().Errorf("[ERROR] Template execute error: template=%s err=%v", name, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		zap.S().Errorf("[ERROR] Template partial error: template=%s err=%v", name, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// renderError renders an error response (JSON for API, HTML for htmx)
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if h.isHTMX(r) {
		h.writeAlert(w, http.StatusInternalServerError, "alert-error", err.Error())
		return
	}
	h.handleInternalError(w, err)
}

// currentUser returns the verified user for r, or nil
func (h *Handler) currentUser(r *http.Request) *models.User {
	if u := auth.UserFrom(r.Context()); u != nil {
		return u
	}
	if h.Auth == nil {
		return nil
	}
	u, err := h.Auth.Verify(auth.TokenFromRequest(r))
	if err != nil {
		return nil
	}
	return u
}

// RequireUser rejects requests without a valid session with 401
func (h *Handler) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := h.currentUser(r)
		if u == nil {
			h.handleUnauthorized(w)
			return
		}
		next(w, r.WithContext(auth.WithUser(r.Context(), u)))
	}
}

// clientIP returns the caller's address for the IP location fallback
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleHealthCheck handles GET /api/v1/health
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "connected"

	if err := h.DB.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		dbStatus = "error"
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"version":  "1.0.0",
		"database": dbStatus,
		"sessions": h.Sessions.Len(),
	})
}
