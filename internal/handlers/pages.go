package handlers

import (
	"net/http"

	"saferoute/internal/auth"
	"saferoute/internal/models"
)

// Tabs of the page shell, in display order
var Tabs = []string{"map", "contacts", "sos", "feedback"}

// HandleIndexPage handles GET /
func (h *Handler) HandleIndexPage(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	ctx := auth.WithUser(r.Context(), user)

	list, err := h.Contacts.List(ctx, user.ID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	reports, err := h.Feedback.List(ctx, user.ID, 0)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	tab := r.URL.Query().Get("tab")
	if !validTab(tab) {
		tab = "map"
	}

	sess := h.Sessions.Get(user.ID)
	data := map[string]interface{}{
		"Title":         "SafeRoute",
		"ActivePage":    tab,
		"Tabs":          Tabs,
		"User":          user,
		"Contacts":      list,
		"Reports":       reports,
		"IncidentTypes": models.IncidentTypes,
		"Map":           h.Map,
		"MapState":      sess.View.State(),
		"Start":         "",
		"Destination":   "",
	}
	if signal, ok := sess.Completion(); ok {
		data["ActivePage"] = signal.Tab
		data["Start"] = signal.Start
		data["Destination"] = signal.Destination
	}

	h.renderTemplate(w, "index.html", data)
}

// HandleLoginPage handles GET /login
func (h *Handler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if h.currentUser(r) != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderTemplate(w, "login.html", map[string]interface{}{
		"Title":      "Sign in",
		"ActivePage": "login",
	})
}

func validTab(tab string) bool {
	for _, t := range Tabs {
		if t == tab {
			return true
		}
	}
	return false
}
