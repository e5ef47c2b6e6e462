package server

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saferoute/internal/auth"
	"saferoute/internal/cache"
	"saferoute/internal/contacts"
	"saferoute/internal/feedback"
	"saferoute/internal/handlers"
	"saferoute/internal/mapview"
	"saferoute/internal/models"
	"saferoute/internal/notify"
	"saferoute/internal/sqlite"
	"saferoute/internal/testutil"
	"saferoute/web"
)

var (
	townHall = models.Coordinates{Lat: 11.0168, Lng: 76.9558}
	testUser = models.User{ID: "user-1", Email: "priya@example.com", Name: "Priya Raman"}
)

func passThrough(next http.Handler) http.Handler { return next }

func setupTestServer(t *testing.T) (*http.ServeMux, string) {
	t.Helper()

	templates, err := loadTemplates(web.Templates)
	require.NoError(t, err)

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	geocoder := testutil.NewMockGeocoder()
	geocoder.Set("Town Hall", townHall)
	zones := []models.SafetyZone{{Center: townHall, RadiusMeters: 500, Level: models.MediumRisk}}
	sessions := handlers.NewSessionStore(handlers.SessionConfig{
		Geocoder:   geocoder,
		Engine:     testutil.NewMockRouteEngine(10),
		Zones:      zones,
		Center:     townHall,
		FixTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(sessions.Close)

	verifier, err := auth.NewVerifier("server-secret", "", "")
	require.NoError(t, err)
	h := &handlers.Handler{
		DB:       db,
		Geocoder: geocoder,
		Auth:     verifier,
		Sessions: sessions,
		Contacts: contacts.NewService(db.Contacts()),
		Feedback: feedback.NewService(db.Reports()),
		SOS:      notify.NewDispatcher(testutil.NewMockMailer(), geocoder, cache.NewLocal(time.Minute, time.Minute), notify.DispatcherOptions{}),
		Map: handlers.MapSettings{
			TileURL:     "https://tile.example/{z}/{x}/{y}.png",
			Attribution: "test tiles",
			Zones:       zones,
		},
		Templates: templates,
	}

	token, err := verifier.Issue(testUser, time.Hour)
	require.NoError(t, err)

	return setupRoutes(h, web.Static, passThrough), token
}

func TestLoadTemplates(t *testing.T) {
	set, err := loadTemplates(web.Templates)
	require.NoError(t, err)

	assert.Contains(t, set.Pages, "index.html")
	assert.Contains(t, set.Pages, "login.html")

	for _, name := range []string{
		"address_suggestions.html",
		"contacts_list.html",
		"feedback_form.html",
		"feedback_list.html",
		"route_directions.html",
		"sos_result.html",
	} {
		assert.NotNil(t, set.Base.Lookup(name), name)
	}
}

func TestPartialsRender(t *testing.T) {
	set, err := loadTemplates(web.Templates)
	require.NoError(t, err)

	route := &models.Route{DistanceMeters: 2400, DurationSecs: 540, Source: models.RouteSourceFallback}
	tests := []struct {
		name     string
		data     interface{}
		contains []string
	}{
		{
			name: "contacts_list.html",
			data: []contacts.Entry{{
				EmergencyContact: models.EmergencyContact{ID: "c1", Name: "Asha Menon", Phone: "+91 98450 12345", Email: "asha@example.com"},
				Links:            contacts.LinksFor(models.EmergencyContact{Phone: "+91 98450 12345", Email: "asha@example.com"}),
			}},
			contains: []string{"Asha Menon", "AM", "tel:+919845012345", "/api/v1/contacts/c1"},
		},
		{
			name:     "contacts_list.html",
			data:     []contacts.Entry{},
			contains: []string{"No emergency contacts yet"},
		},
		{
			name: "feedback_list.html",
			data: []models.SafetyReport{{
				Location: "Town Hall", Destination: "Railway Station", Rating: 3,
				IncidentType: models.IncidentPoorLighting, CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			}},
			contains: []string{"Town Hall", "Poor Lighting", "★★★", "2026-03-01"},
		},
		{
			name: "feedback_form.html",
			data: map[string]interface{}{
				"Start": "Town Hall", "Destination": "Railway Station", "IncidentTypes": models.IncidentTypes,
			},
			contains: []string{`value="Town Hall"`, `value="Railway Station"`, "Verbal Abuse"},
		},
		{
			name: "route_directions.html",
			data: map[string]interface{}{
				"Result": &mapview.Result{
					Route:      route,
					Segments:   []models.RouteSegment{{Level: models.HighRisk, DistanceMeters: 800}},
					Directions: []string{"Head north on Avinashi Road"},
				},
				"HasEmergencyContacts": false,
			},
			contains: []string{"2.4 km", "9 min", "fallback routing", "segment-HIGH_RISK", "Head north on Avinashi Road", "no emergency contacts"},
		},
		{
			name:     "sos_result.html",
			data:     &models.SOSResult{Total: 3, Sent: 2, Failed: 1, LocationLink: "https://www.google.com/maps?q=11.016800,76.955800"},
			contains: []string{"SOS sent to 2 of 3 contacts", "1 could not be reached", "maps?q=11.016800"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := set.Base.Clone()
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, tmpl.ExecuteTemplate(&buf, tt.name, tt.data))
			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	mux, token := setupTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		authed     bool
		wantStatus int
		contains   string
	}{
		{"health", http.MethodGet, "/api/v1/health", false, http.StatusOK, `"status":"ok"`},
		{"contacts requires auth", http.MethodGet, "/api/v1/contacts", false, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"contacts list", http.MethodGet, "/api/v1/contacts", true, http.StatusOK, `"total":0`},
		{"contacts wrong method", http.MethodPut, "/api/v1/contacts", true, http.StatusMethodNotAllowed, ""},
		{"delete missing contact", http.MethodDelete, "/api/v1/contacts/nope", true, http.StatusNotFound, ""},
		{"geocode wrong method", http.MethodPost, "/api/v1/geocode", true, http.StatusMethodNotAllowed, ""},
		{"map", http.MethodGet, "/api/v1/map", true, http.StatusOK, `"state"`},
		{"feedback list", http.MethodGet, "/api/v1/feedback", true, http.StatusOK, ""},
		{"session signed out", http.MethodGet, "/api/v1/session", false, http.StatusUnauthorized, ""},
		{"email function preflight", http.MethodOptions, "/functions/v1/send-sos-email", false, http.StatusOK, ""},
		{"email function wrong method", http.MethodGet, "/functions/v1/send-sos-email", false, http.StatusMethodNotAllowed, ""},
		{"static css", http.MethodGet, "/static/css/app.css", false, http.StatusOK, "--primary"},
		{"static js", http.MethodGet, "/static/js/app.js", false, http.StatusOK, "refreshMap"},
		{"metrics", http.MethodGet, "/metrics", false, http.StatusOK, ""},
		{"login page", http.MethodGet, "/login", false, http.StatusOK, "Sign in to SafeRoute"},
		{"index redirects when signed out", http.MethodGet, "/", false, http.StatusSeeOther, ""},
		{"index page", http.MethodGet, "/", true, http.StatusOK, "Emergency contacts"},
		{"unknown page", http.MethodGet, "/nope", false, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.authed {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.contains != "" {
				assert.Contains(t, w.Body.String(), tt.contains)
			}
		})
	}
}

func TestIndexPageRendersShell(t *testing.T) {
	mux, token := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/?tab=sos", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `id="tab-sos" class="tab-panel active"`)
	assert.Contains(t, body, "PR")
	assert.Contains(t, body, "https://tile.example/")
	assert.Contains(t, body, "MEDIUM_RISK")
}

func TestRateLimiter(t *testing.T) {
	t.Run("limits per client", func(t *testing.T) {
		mw, err := newRateLimiter("2-M", false)
		require.NoError(t, err)

		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			req.RemoteAddr = "203.0.113.7:5000"
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

		// another client has its own budget
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.RemoteAddr = "203.0.113.8:5000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("ignores forwarded headers without a proxy", func(t *testing.T) {
		mw, err := newRateLimiter("2-M", false)
		require.NoError(t, err)

		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			req.RemoteAddr = "203.0.113.9:5000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
			req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	})

	t.Run("honours forwarded headers behind a proxy", func(t *testing.T) {
		mw, err := newRateLimiter("1-M", true)
		require.NoError(t, err)

		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			req.RemoteAddr = "10.0.0.2:5000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("empty rate disables limiting", func(t *testing.T) {
		mw, err := newRateLimiter("", false)
		require.NoError(t, err)
		assert.NotNil(t, mw)
	})

	t.Run("invalid rate", func(t *testing.T) {
		_, err := newRateLimiter("lots", false)
		assert.Error(t, err)
	})
}

func TestCorsMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := corsMiddleware(next)

	t.Run("localhost preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/contacts", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("foreign origin gets no grant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("functions pass through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/functions/v1/send-sos-email", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusTeapot, w.Code)
	})
}

func TestLoggingMiddlewareKeepsStatus(t *testing.T) {
	h := metricsMiddleware(loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sos", strings.NewReader("")))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/api/v1/contacts/{id}", routeLabel("/api/v1/contacts/abc-123"))
	assert.Equal(t, "/static", routeLabel("/static/js/app.js"))
	assert.Equal(t, "/api/v1/map", routeLabel("/api/v1/map"))
}
