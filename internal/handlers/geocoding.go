package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"saferoute/internal/geocoding"
)

// HandleGeocode handles GET /api/v1/geocode
func (h *Handler) HandleGeocode(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		h.handleValidationError(w, "Address is required")
		return
	}

	result, err := h.Geocoder.Geocode(r.Context(), address)
	if err != nil {
		h.handleGeocodingError(w, r, err)
		return
	}
	if result == nil {
		h.writeError(w, http.StatusUnprocessableEntity, "GEOCODING_FAILED", "Could not find that location", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleAddressSearch handles GET /api/v1/address-search
func (h *Handler) HandleAddressSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("address")
	zap.S().Debugf("[HTTP] GET /api/v1/address-search: query=%s", query)

	if len(strings.TrimSpace(query)) < geocoding.MinSearchLength {
		if h.isHTMX(r) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			return
		}
		h.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}

	results, err := h.Geocoder.Search(r.Context(), query, 5)
	if err != nil {
		zap.S().Errorf("[ERROR] Failed to search addresses: query=%s err=%v", query, err)
		if h.isHTMX(r) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			return
		}
		h.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}

	zap.S().Debugf("[HTTP] GET /api/v1/address-search: query=%s results_count=%d", query, len(results))

	if h.isHTMX(r) {
		h.renderTemplate(w, "address_suggestions.html", map[string]interface{}{
			"Results": results,
			"Target":  r.URL.Query().Get("target"),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}
