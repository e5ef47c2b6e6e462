package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"saferoute/internal/auth"
	"saferoute/internal/feedback"
	"saferoute/internal/models"
)

// FeedbackRequest is a submitted safety report
type FeedbackRequest struct {
	Location     string              `json:"location"`
	Destination  string              `json:"destination"`
	Rating       int                 `json:"rating"`
	IncidentType models.IncidentType `json:"incident_type"`
	Description  string              `json:"description"`
	Lat          float64             `json:"lat"`
	Lng          float64             `json:"lng"`
}

// FeedbackListResponse represents the list of reports response
type FeedbackListResponse struct {
	Reports []models.SafetyReport `json:"reports"`
	Total   int                   `json:"total"`
}

// HandleListFeedback handles GET /api/v1/feedback
func (h *Handler) HandleListFeedback(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reports, err := h.Feedback.List(r.Context(), user.ID, limit)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	if h.isHTMX(r) {
		h.renderTemplate(w, "feedback_list.html", reports)
		return
	}
	h.writeJSON(w, http.StatusOK, FeedbackListResponse{Reports: reports, Total: len(reports)})
}

// HandleSubmitFeedback handles POST /api/v1/feedback
func (h *Handler) HandleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	req, err := h.parseFeedback(r)
	if err != nil {
		h.handleValidationErrorHTMX(w, r, "Invalid request body")
		return
	}

	saved, err := h.Feedback.Submit(r.Context(), user.ID, models.SafetyReport{
		Location:     req.Location,
		Destination:  req.Destination,
		Rating:       req.Rating,
		IncidentType: req.IncidentType,
		Description:  req.Description,
		Latitude:     req.Lat,
		Longitude:    req.Lng,
	})
	if errors.Is(err, feedback.ErrInvalidReport) {
		h.handleValidationErrorHTMX(w, r, strings.TrimPrefix(err.Error(), feedback.ErrInvalidReport.Error()+": "))
		return
	}
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	if h.isHTMX(r) {
		h.writeAlert(w, http.StatusCreated, "alert-success", "Thank you for your feedback")
		return
	}
	h.writeJSON(w, http.StatusCreated, saved)
}

// parseFeedback reads JSON or the htmx feedback form
func (h *Handler) parseFeedback(r *http.Request) (FeedbackRequest, error) {
	var req FeedbackRequest
	ct := r.Header.Get("Content-Type")
	if !strings.Contains(ct, "application/x-www-form-urlencoded") && !strings.Contains(ct, "multipart/form-data") {
		err := h.decodeBody(r, &req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Location = r.PostForm.Get("location")
	req.Destination = r.PostForm.Get("destination")
	req.IncidentType = models.IncidentType(r.PostForm.Get("incident_type"))
	req.Description = r.PostForm.Get("description")
	if v := r.PostForm.Get("rating"); v != "" {
		rating, err := strconv.Atoi(v)
		if err != nil {
			return req, err
		}
		req.Rating = rating
	}
	req.Lat, _ = strconv.ParseFloat(r.PostForm.Get("lat"), 64)
	req.Lng, _ = strconv.ParseFloat(r.PostForm.Get("lng"), 64)
	return req, nil
}
