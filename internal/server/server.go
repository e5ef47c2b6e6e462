package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"saferoute/internal/auth"
	"saferoute/internal/cache"
	"saferoute/internal/config"
	"saferoute/internal/contacts"
	"saferoute/internal/database"
	"saferoute/internal/feedback"
	"saferoute/internal/geocoding"
	"saferoute/internal/geolocation"
	"saferoute/internal/handlers"
	"saferoute/internal/metrics"
	"saferoute/internal/models"
	"saferoute/internal/notify"
	"saferoute/internal/postgres"
	"saferoute/internal/routing"
	"saferoute/internal/sqlite"
	"saferoute/web"
)

var defaultCenter = models.Coordinates{Lat: 11.0168, Lng: 76.9558}

const (
	sessionJanitorInterval = 5 * time.Minute
	sessionMaxIdle         = 2 * time.Hour
)

// Server wraps the HTTP server and all dependencies
type Server struct {
	httpServer *http.Server
	handler    *handlers.Handler
	db         database.DataStore
	cache      cache.Cache
	listener   net.Listener
	addr       string
	stop       context.CancelFunc
}

// New creates and initializes a new server (does not start it)
func New(cfg *config.Config) (*Server, error) {
	log := zap.S()

	log.Infof("Initializing cache: type=%s", cfg.Cache.Type)
	c, err := cache.New(cache.Config{
		Type:            cfg.Cache.Type,
		RedisURL:        cfg.Cache.RedisURL,
		DefaultTTL:      cfg.Cache.DefaultTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	log.Infof("Initializing data store: driver=%s", cfg.Database.Driver)
	db, err := openStore(cfg.Database)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize data store: %w", err)
	}

	log.Infof("Loading templates...")
	templates, err := loadTemplates(web.Templates)
	if err != nil {
		db.Close()
		c.Close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	mailer, err := notify.NewMailer(notify.Config{
		Provider:     cfg.Mail.Provider,
		From:         cfg.Mail.From,
		ResendAPIKey: cfg.Mail.ResendAPIKey,
		ResendURL:    cfg.Mail.ResendURL,
		SMTPAddr:     cfg.Mail.SMTPAddr,
		SMTPUsername: cfg.Mail.SMTPUsername,
		SMTPPassword: cfg.Mail.SMTPPassword,
	})
	if err != nil {
		db.Close()
		c.Close()
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	geocoder := geocoding.NewNominatimGeocoder(geocoding.Options{
		BaseURL:           cfg.Geocoding.BaseURL,
		UserAgent:         cfg.Geocoding.UserAgent,
		RequestsPerSecond: cfg.Geocoding.RequestsPerSecond,
		Timeout:           cfg.Geocoding.Timeout,
		CacheTTL:          cfg.Geocoding.CacheTTL,
	}, c)

	primary := routing.NewOSRMRouter(cfg.Routing.PrimaryURL, cfg.Routing.Profile, cfg.Routing.Timeout)
	var fallback routing.ControlFactory
	if cfg.Routing.FallbackURL != "" {
		fallback = routing.NewControlFactory(cfg.Routing.FallbackURL, cfg.Routing.Profile, cfg.Routing.Timeout)
	}
	engine := routing.NewEngine(primary, fallback)

	var ipLocator geolocation.IPLocator
	if cfg.Geolocation.IPLocateURL != "" {
		ipLocator = geolocation.NewIPLocator(cfg.Geolocation.IPLocateURL, cfg.Geolocation.Timeout)
	}

	zones := cfg.Map.Zones
	center := defaultCenter
	if len(zones) > 0 {
		center = zones[0].Center
	}

	sessions := handlers.NewSessionStore(handlers.SessionConfig{
		Geocoder:   geocoder,
		Engine:     engine,
		IPLocator:  ipLocator,
		Zones:      zones,
		Center:     center,
		FixTimeout: cfg.Geolocation.FixTimeout,
	})

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Audience, cfg.Auth.Issuer)
	if err != nil {
		db.Close()
		c.Close()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	handler := &handlers.Handler{
		DB:       db,
		Geocoder: geocoder,
		Auth:     verifier,
		Sessions: sessions,
		Contacts: contacts.NewService(db.Contacts()),
		Feedback: feedback.NewService(db.Reports()),
		SOS: notify.NewDispatcher(mailer, geocoder, c, notify.DispatcherOptions{
			From:           cfg.Mail.From,
			Cooldown:       cfg.SOS.Cooldown,
			MaxConcurrency: cfg.SOS.MaxConcurrency,
		}),
		Map: handlers.MapSettings{
			TileURL:     cfg.Map.TileURL,
			Attribution: cfg.Map.Attribution,
			Zones:       zones,
		},
		Templates:     templates,
		SecureCookies: !strings.HasPrefix(cfg.Server.Addr, "127.0.0.1") && !strings.HasPrefix(cfg.Server.Addr, "localhost"),
	}

	metrics.RegisterDefault()

	limiterMw, err := newRateLimiter(cfg.Server.RateLimit, cfg.Server.TrustProxy)
	if err != nil {
		db.Close()
		c.Close()
		return nil, err
	}

	mux := setupRoutes(handler, web.Static, limiterMw)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      metricsMiddleware(loggingMiddleware(corsMiddleware(mux))),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
		db:         db,
		cache:      c,
		addr:       cfg.Server.Addr,
	}, nil
}

func openStore(cfg config.DatabaseConfig) (database.DataStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return sqlite.New(cfg.Path)
	case "postgres":
		return postgres.New(context.Background(), cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Start starts the server and returns the actual address (useful for random port)
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener
	actualAddr := listener.Addr().String()
	zap.S().Infof("Starting server on %s", actualAddr)

	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	go s.handler.Sessions.RunJanitor(ctx, sessionJanitorInterval, sessionMaxIdle)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			zap.S().Errorf("Server error: %v", err)
		}
	}()

	return actualAddr, nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.handler.Sessions.Close()
	if err := s.cache.Close(); err != nil {
		zap.S().Warnf("Cache close failed: %v", err)
	}
	return s.db.Close()
}

// Template helper functions
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			return t.Format("2006-01-02")
		},
		"formatDistance": func(meters float64) string {
			if meters < 1000 {
				return fmt.Sprintf("%.0f m", meters)
			}
			return fmt.Sprintf("%.1f km", meters/1000)
		},
		"formatDuration": func(seconds float64) string {
			mins := int(seconds / 60)
			if mins < 60 {
				return fmt.Sprintf("%d min", mins)
			}
			return fmt.Sprintf("%dh %dm", mins/60, mins%60)
		},
		"toJSON": func(v interface{}) template.JS {
			b, err := json.Marshal(v)
			if err != nil {
				return "{}"
			}
			return template.JS(b)
		},
		// contact links are built by contacts.LinksFor from digits only
		"contactURL": func(s string) template.URL {
			return template.URL(s)
		},
		"title": func(s string) string {
			if s == "" {
				return s
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
		"stars": func(n int) []int {
			out := make([]int, n)
			for i := range out {
				out[i] = i + 1
			}
			return out
		},
		"initials": func(name string) string {
			parts := strings.Fields(strings.TrimSpace(name))
			if len(parts) == 0 {
				return ""
			}

			first := []rune(parts[0])
			if len(parts) == 1 {
				return strings.ToUpper(string(first[0]))
			}

			last := []rune(parts[len(parts)-1])
			return strings.ToUpper(string(first[0]) + string(last[0]))
		},
	}
}

// loadTemplates loads all templates from the embedded filesystem
func loadTemplates(templatesFS fs.FS) (*handlers.TemplateSet, error) {
	funcs := templateFuncs()
	base := template.New("").Funcs(funcs)

	layoutContent, err := fs.ReadFile(templatesFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	if _, err = base.New("layout.html").Parse(string(layoutContent)); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	partialFiles, err := fs.Glob(templatesFS, "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to glob partials: %w", err)
	}

	for _, file := range partialFiles {
		content, err := fs.ReadFile(templatesFS, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read partial %s: %w", file, err)
		}
		name := file[len("templates/partials/"):]
		if _, err = base.New(name).Parse(string(content)); err != nil {
			return nil, fmt.Errorf("failed to parse partial %s: %w", file, err)
		}
	}

	// Page templates stay as strings; each render parses one into a clone
	pages := make(map[string]string)
	for _, name := range []string{"index.html", "login.html"} {
		content, err := fs.ReadFile(templatesFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %s: %w", name, err)
		}
		pages[name] = string(content)
	}

	return &handlers.TemplateSet{
		Base:  base,
		Pages: pages,
		Funcs: funcs,
	}, nil
}
