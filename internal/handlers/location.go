package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"saferoute/internal/auth"
	"saferoute/internal/geolocation"
	"saferoute/internal/models"
	"saferoute/internal/safety"
)

// LocationReport is a device fix posted by the client
type LocationReport struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"` // unix millis, optional
}

// LocationResponse is the user's current position with its safety level
type LocationResponse struct {
	Fix      models.Fix       `json:"fix"`
	Level    models.RiskLevel `json:"level"`
	Color    string           `json:"color"`
	Tracking bool             `json:"tracking"`
}

// HandleReportLocation handles POST /api/v1/location
func (h *Handler) HandleReportLocation(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req LocationReport
	if err := h.decodeBody(r, &req); err != nil {
		h.handleValidationError(w, "Invalid request body")
		return
	}

	ts := time.Now()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}
	fix := models.Fix{
		Coords:         models.Coordinates{Lat: req.Lat, Lng: req.Lng},
		AccuracyMeters: req.Accuracy,
		Timestamp:      ts,
		Source:         models.FixSourceDevice,
	}

	sess := h.Sessions.Get(user.ID)
	if err := sess.Source.Report(fix); err != nil {
		h.handleValidationError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetLocation handles GET /api/v1/location
func (h *Handler) HandleGetLocation(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	sess := h.Sessions.Get(user.ID)
	sess.Tracker.SetClientIP(clientIP(r))

	fix, err := sess.Tracker.CurrentPosition(r.Context())
	if err != nil {
		zap.S().Warnf("[GEOLOCATION] No position for user=%s err=%v", user.ID, err)
		var lerr *geolocation.ErrLocateFailed
		if errors.As(err, &lerr) {
			h.writeError(w, http.StatusBadGateway, "LOCATION_UNAVAILABLE", "Could not determine your location", nil)
			return
		}
		h.writeError(w, http.StatusUnprocessableEntity, "LOCATION_UNAVAILABLE", "Could not determine your location", nil)
		return
	}

	level := safety.LevelAt(h.Map.Zones, fix.Coords)
	h.writeJSON(w, http.StatusOK, LocationResponse{
		Fix:      fix,
		Level:    level,
		Color:    safety.Color(level),
		Tracking: sess.Tracker.Tracking(),
	})
}

// HandleStartTracking handles POST /api/v1/tracking
func (h *Handler) HandleStartTracking(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	sess := h.Sessions.Get(user.ID)
	sess.Tracker.SetClientIP(clientIP(r))

	err := sess.Tracker.Start(r.Context())
	resp := map[string]interface{}{"tracking": sess.Tracker.Tracking()}
	if fix, ok := sess.Tracker.Last(); ok {
		resp["fix"] = fix
	}
	if err != nil {
		resp["warning"] = "Could not determine your location yet"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStopTracking handles DELETE /api/v1/tracking
func (h *Handler) HandleStopTracking(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	if sess, ok := h.Sessions.Peek(user.ID); ok {
		sess.Tracker.Stop()
	}
	w.WriteHeader(http.StatusNoContent)
}
