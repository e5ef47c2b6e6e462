package handlers

import (
	"errors"
	"net/http"
	"strings"

	"saferoute/internal/auth"
	"saferoute/internal/contacts"
	"saferoute/internal/models"
)

// ContactListResponse represents the list of contacts response
type ContactListResponse struct {
	Contacts []contacts.Entry `json:"contacts"`
	Total    int              `json:"total"`
}

// HandleListContacts handles GET /api/v1/contacts
func (h *Handler) HandleListContacts(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	list, err := h.Contacts.List(r.Context(), user.ID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	if h.isHTMX(r) {
		h.renderTemplate(w, "contacts_list.html", list)
		return
	}
	h.writeJSON(w, http.StatusOK, ContactListResponse{Contacts: list, Total: len(list)})
}

// HandleCreateContact handles POST /api/v1/contacts
func (h *Handler) HandleCreateContact(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req models.EmergencyContact
	if err := h.decodeBody(r, &req); err != nil {
		h.handleValidationError(w, "Invalid request body")
		return
	}

	entry, err := h.Contacts.Add(r.Context(), user.ID, req)
	if errors.Is(err, contacts.ErrInvalidContact) {
		h.handleValidationErrorHTMX(w, r, err.Error())
		return
	}
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	if h.isHTMX(r) {
		list, err := h.Contacts.List(r.Context(), user.ID)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		h.renderTemplate(w, "contacts_list.html", list)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// HandleDeleteContact handles DELETE /api/v1/contacts/{id}
func (h *Handler) HandleDeleteContact(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/contacts/")
	if id == "" || strings.Contains(id, "/") {
		h.handleValidationError(w, "Invalid contact ID")
		return
	}

	if err := h.Contacts.Remove(r.Context(), user.ID, id); err != nil {
		if h.checkNotFound(err) {
			h.handleNotFound(w, "Contact not found")
			return
		}
		h.renderError(w, r, err)
		return
	}

	if h.isHTMX(r) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
