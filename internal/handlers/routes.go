package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"saferoute/internal/auth"
	"saferoute/internal/mapview"
	"saferoute/internal/models"
)

// CalculateRouteRequest is submitted by the search panel
type CalculateRouteRequest struct {
	Start       string `json:"start"`
	Destination string `json:"destination"`
}

// CalculateRouteResponse is a drawn route plus what the panel needs to show
type CalculateRouteResponse struct {
	*mapview.Result
	HasEmergencyContacts bool `json:"has_emergency_contacts"`
}

// MapResponse is the user's scene and the client map settings
type MapResponse struct {
	State    mapview.State  `json:"state"`
	Scene    *mapview.Scene `json:"scene"`
	Settings MapSettings    `json:"settings"`
	Route    *models.Route  `json:"route,omitempty"`
}

// HandleGetMap handles GET /api/v1/map
func (h *Handler) HandleGetMap(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	sess := h.Sessions.Get(user.ID)

	if r.URL.Query().Get("format") == "geojson" {
		w.Header().Set("Content-Type", "application/geo+json")
		json.NewEncoder(w).Encode(sess.Scene.FeatureCollection())
		return
	}

	route, _, _ := sess.View.Route()
	h.writeJSON(w, http.StatusOK, MapResponse{
		State:    sess.View.State(),
		Scene:    sess.Scene,
		Settings: h.Map,
		Route:    route,
	})
}

// HandleCalculateRoute handles POST /api/v1/routes/calculate
func (h *Handler) HandleCalculateRoute(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req CalculateRouteRequest
	if err := h.decodeBody(r, &req); err != nil {
		zap.S().Infof("[HTTP] POST /api/v1/routes/calculate: invalid_body err=%v", err)
		h.handleValidationError(w, "Invalid request body")
		return
	}

	sess := h.Sessions.Get(user.ID)
	sess.Tracker.SetClientIP(clientIP(r))

	result, err := sess.Controller().CalculateRoute(r.Context(), req.Start, req.Destination)
	if err != nil {
		h.handleCalculateError(w, r, err)
		return
	}

	hasContacts, err := h.Contacts.HasAny(r.Context(), user.ID)
	if err != nil {
		zap.S().Warnf("[HTTP] POST /api/v1/routes/calculate: contact check failed err=%v", err)
	}

	zap.S().Infof("[HTTP] POST /api/v1/routes/calculate: user=%s source=%s segments=%d", user.ID, result.Route.Source, len(result.Segments))

	if h.isHTMX(r) {
		h.renderTemplate(w, "route_directions.html", map[string]interface{}{
			"Result":               result,
			"HasEmergencyContacts": hasContacts,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, CalculateRouteResponse{Result: result, HasEmergencyContacts: hasContacts})
}

func (h *Handler) handleCalculateError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *mapview.ErrLocationNotFound
	switch {
	case errors.Is(err, mapview.ErrDestinationRequired):
		h.handleValidationErrorHTMX(w, r, "Please enter a destination")
	case errors.As(err, &notFound):
		h.handleGeocodingError(w, r, err)
	case errors.Is(err, mapview.ErrSuperseded):
		h.writeError(w, http.StatusConflict, "SUPERSEDED", "A newer route request replaced this one", nil)
	case errors.Is(err, mapview.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	default:
		h.handleRoutingError(w, r, err)
	}
}

// HandleCompleteRoute handles POST /api/v1/routes/complete
func (h *Handler) HandleCompleteRoute(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	sess, ok := h.Sessions.Peek(user.ID)
	if !ok {
		h.writeError(w, http.StatusConflict, "INVALID_STATE", "No active navigation", nil)
		return
	}

	signal, err := sess.View.Complete()
	if err != nil {
		h.writeError(w, http.StatusConflict, "INVALID_STATE", "No active navigation", nil)
		return
	}

	if h.isHTMX(r) {
		trigger, _ := json.Marshal(map[string]interface{}{"open-tab": signal})
		w.Header().Set("HX-Trigger", string(trigger))
		h.renderTemplate(w, "feedback_form.html", map[string]interface{}{
			"Start":         signal.Start,
			"Destination":   signal.Destination,
			"IncidentTypes": models.IncidentTypes,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, signal)
}
