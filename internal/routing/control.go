package routing

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"saferoute/internal/models"
)

// Routing control event names
const (
	EventRoutesFound  = "routesfound"
	EventRoutingError = "routingerror"
)

// Event is raised by a Control once its waypoints have been routed
type Event struct {
	Name   string
	Routes []*models.Route
	Err    error
}

// Control is the indirect routing path: it routes its waypoints against a
// secondary OSRM-compatible service and reports the outcome through events
type Control struct {
	baseURL    string
	profile    string
	httpClient *http.Client

	mu       sync.Mutex
	handlers map[string][]func(Event)
}

// ControlFactory builds a fresh Control for each calculation
type ControlFactory func() *Control

// NewControlFactory returns a factory for controls bound to baseURL
func NewControlFactory(baseURL, profile string, timeout time.Duration) ControlFactory {
	client := &http.Client{Timeout: orTimeout(timeout)}
	baseURL = strings.TrimRight(baseURL, "/")
	profile = orDefault(profile, "driving")
	return func() *Control {
		return &Control{
			baseURL:    baseURL,
			profile:    profile,
			httpClient: client,
			handlers:   make(map[string][]func(Event)),
		}
	}
}

// On registers fn for the named event
func (c *Control) On(name string, fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = append(c.handlers[name], fn)
}

// SetWaypoints routes start to end and raises exactly one event before returning
func (c *Control) SetWaypoints(ctx context.Context, start, end models.Coordinates) {
	route, err := fetchRoute(ctx, c.httpClient, c.baseURL, c.profile, start, end, geometryPolyline)
	if err != nil {
		zap.S().Warnf("[OSRM] Routing control failed: err=%v", err)
		c.emit(Event{Name: EventRoutingError, Err: &ErrRoutingFailed{Source: models.RouteSourceFallback, Reason: err.Error()}})
		return
	}
	route.Source = models.RouteSourceFallback
	c.emit(Event{Name: EventRoutesFound, Routes: []*models.Route{route}})
}

func (c *Control) emit(ev Event) {
	c.mu.Lock()
	handlers := append([](func(Event))(nil), c.handlers[ev.Name]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
