package server

import (
	"io/fs"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"saferoute/internal/handlers"
	"saferoute/internal/metrics"
)

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// setupRoutes configures all HTTP routes
func setupRoutes(h *handlers.Handler, staticFS fs.FS, limit func(http.Handler) http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	api := http.NewServeMux()

	staticSubFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		zap.S().Fatalf("failed to create static sub-filesystem: %v", err)
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSubFS))))
	mux.Handle("/metrics", metrics.Handler())

	api.HandleFunc("/api/v1/health", h.HandleHealthCheck)

	api.HandleFunc("/api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.HandleGetSession(w, r)
		case http.MethodPost:
			h.HandleCreateSession(w, r)
		case http.MethodDelete:
			h.HandleDeleteSession(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	api.HandleFunc("/api/v1/geocode", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.HandleGeocode(w, r)
	}))

	api.HandleFunc("/api/v1/address-search", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.HandleAddressSearch(w, r)
	}))

	api.HandleFunc("/api/v1/location", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.HandleGetLocation(w, r)
		case http.MethodPost:
			h.HandleReportLocation(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	api.HandleFunc("/api/v1/tracking", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.HandleStartTracking(w, r)
		case http.MethodDelete:
			h.HandleStopTracking(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	api.HandleFunc("/api/v1/map", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.HandleGetMap(w, r)
	}))

	api.HandleFunc("/api/v1/routes/calculate", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.HandleCalculateRoute(w, r)
	}))

	api.HandleFunc("/api/v1/routes/complete", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.HandleCompleteRoute(w, r)
	}))

	api.HandleFunc("/api/v1/contacts", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.HandleListContacts(w, r)
		case http.MethodPost:
			h.HandleCreateContact(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	api.HandleFunc("/api/v1/contacts/", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		h.HandleDeleteContact(w, r)
	}))

	api.HandleFunc("/api/v1/sos", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.HandleTriggerSOS(w, r)
	}))

	api.HandleFunc("/api/v1/feedback", h.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.HandleListFeedback(w, r)
		case http.MethodPost:
			h.HandleSubmitFeedback(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	api.HandleFunc("/functions/v1/send-sos-email", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodOptions {
			methodNotAllowed(w)
			return
		}
		h.HandleSendSOSEmail(w, r)
	})

	mux.Handle("/api/", limit(api))
	mux.Handle("/functions/", limit(api))

	// Page routes
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		h.HandleIndexPage(w, r)
	})

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.HandleLoginPage(w, r)
	})

	return mux
}

// routeLabel collapses IDs out of paths so metric labels stay bounded
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/contacts/"):
		return "/api/v1/contacts/{id}"
	case strings.HasPrefix(path, "/static/"):
		return "/static"
	}
	return path
}
