package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"saferoute/internal/auth"
	"saferoute/internal/models"
	"saferoute/internal/notify"
)

// HandleTriggerSOS handles POST /api/v1/sos
func (h *Handler) HandleTriggerSOS(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	list, err := h.Contacts.Contacts(r.Context(), user.ID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	var position *models.Coordinates
	if sess, ok := h.Sessions.Peek(user.ID); ok {
		if fix, ok := sess.Tracker.Last(); ok {
			position = &fix.Coords
		}
	}

	result, err := h.SOS.Trigger(r.Context(), user, list, position)
	switch {
	case errors.Is(err, notify.ErrNoContacts):
		h.handleValidationErrorHTMX(w, r, "Add an emergency contact before sending an SOS.")
		return
	case errors.Is(err, notify.ErrCooldown):
		if h.isHTMX(r) {
			h.writeAlert(w, http.StatusTooManyRequests, "alert-info", err.Error())
			return
		}
		h.writeError(w, http.StatusTooManyRequests, "SOS_COOLDOWN", err.Error(), nil)
		return
	case err != nil:
		h.renderError(w, r, err)
		return
	}

	if h.isHTMX(r) {
		h.renderTemplate(w, "sos_result.html", result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleSendSOSEmail handles POST /functions/v1/send-sos-email, the
// outbound e-mail function. CORS is open for any origin; the caller must
// present a valid bearer token.
func (h *Handler) HandleSendSOSEmail(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if h.currentUser(r) == nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var alert notify.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if alert.ContactEmail == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": notify.ErrEmailRequired.Error()})
		return
	}

	id, err := h.SOS.Send(r.Context(), alert)
	if errors.Is(err, notify.ErrInvalidAlert) {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		zap.S().Errorf("[ERROR] Error sending email: to=%s err=%v", alert.ContactEmail, err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    map[string]string{"id": id},
	})
}
