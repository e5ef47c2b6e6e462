package mapview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"saferoute/internal/geocoding"
	"saferoute/internal/models"
	"saferoute/internal/safety"
)

// State is the map view lifecycle state
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoaded        State = "loaded"
	StateIdle          State = "idle"
	StateNavigating    State = "navigating"
	StateComplete      State = "complete"
)

// FeedbackTab is the page shell tab shown after navigation completes
const FeedbackTab = "feedback"

var (
	// ErrInvalidTransition is returned when an action is not allowed in the current state
	ErrInvalidTransition = errors.New("invalid map state transition")
	// ErrDestinationRequired is returned when the destination is blank
	ErrDestinationRequired = errors.New("please enter a destination")
	// ErrSuperseded is returned by a calculation overtaken by a newer one
	ErrSuperseded = errors.New("route calculation superseded")
)

// ErrLocationNotFound is returned when a start or destination cannot be resolved
type ErrLocationNotFound struct {
	Field   string // "start" or "destination"
	Address string
	Err     error
}

func (e *ErrLocationNotFound) Error() string {
	return fmt.Sprintf("Could not find %s location", e.Field)
}

func (e *ErrLocationNotFound) Unwrap() error {
	return e.Err
}

// Geocoder resolves addresses for the view
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geocoding.GeocodingResult, error)
}

// PositionProvider supplies the user's position for a blank start
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (models.Fix, error)
}

// RouteEngine calculates a route between two coordinates
type RouteEngine interface {
	Route(ctx context.Context, start, end models.Coordinates) (*models.Route, error)
}

// RouteController is the shared entry point for route calculation. The map
// panel and the search panel both hold the same controller.
type RouteController interface {
	CalculateRoute(ctx context.Context, start, end string) (*Result, error)
}

// Result is the outcome of a successful calculation
type Result struct {
	Route      *models.Route         `json:"route"`
	Segments   []models.RouteSegment `json:"segments"`
	Directions []string              `json:"directions"`
	State      State                 `json:"state"`
}

// CompletionSignal tells the page shell to open the feedback tab
type CompletionSignal struct {
	Tab         string `json:"tab"`
	Start       string `json:"start"`
	Destination string `json:"destination"`
}

// Options configures a View
type Options struct {
	Zones      []models.SafetyZone
	OnComplete func(CompletionSignal)
}

// View owns the map scene and drives it through the route lifecycle
type View struct {
	scene     *Scene
	geocoder  Geocoder
	positions PositionProvider
	engine    RouteEngine
	zones     []models.SafetyZone

	mu            sync.Mutex
	state         State
	route         *models.Route
	segments      []models.RouteSegment
	routeOverlays []string
	startLabel    string
	endLabel      string
	generation    uint64
	cancel        context.CancelFunc
	onComplete    func(CompletionSignal)
}

// NewView creates a view in the uninitialized state
func NewView(scene *Scene, geocoder Geocoder, positions PositionProvider, engine RouteEngine, opts Options) *View {
	return &View{
		scene:      scene,
		geocoder:   geocoder,
		positions:  positions,
		engine:     engine,
		zones:      opts.Zones,
		state:      StateUninitialized,
		onComplete: opts.OnComplete,
	}
}

// Scene returns the view's scene
func (v *View) Scene() *Scene {
	return v.scene
}

// State returns the current state
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Load mounts the map and draws the static safety zones
func (v *View) Load() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateUninitialized {
		return ErrInvalidTransition
	}
	for _, z := range v.zones {
		v.scene.Add(Overlay{
			Kind:         KindSafetyZone,
			Geometry:     z.Center.Point(),
			RadiusMeters: z.RadiusMeters,
			Color:        safety.Color(z.Level),
			Level:        z.Level,
		})
	}
	v.state = StateLoaded
	zap.S().Infof("[MAP] Loaded: zones=%d", len(v.zones))
	return nil
}

// CalculateRoute resolves start and end, replaces any drawn route and
// switches to navigating. A blank start uses the current position.
func (v *View) CalculateRoute(ctx context.Context, start, end string) (*Result, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if end == "" {
		return nil, ErrDestinationRequired
	}

	v.mu.Lock()
	if v.state == StateUninitialized {
		v.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if v.cancel != nil {
		v.cancel()
	}
	v.generation++
	gen := v.generation
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.mu.Unlock()
	defer cancel()

	startLoc, err := v.resolveStart(ctx, start)
	if err != nil {
		return nil, v.finishFailure(gen, err)
	}
	endLoc, err := v.resolve(ctx, "destination", end)
	if err != nil {
		return nil, v.finishFailure(gen, err)
	}

	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return nil, ErrSuperseded
	}
	if v.state == StateLoaded || v.state == StateComplete {
		v.state = StateIdle
	}
	v.clearRouteLocked()
	v.mu.Unlock()

	route, err := v.engine.Route(ctx, startLoc.Coords(), endLoc.Coords())

	v.mu.Lock()
	defer v.mu.Unlock()

	if gen != v.generation {
		return nil, ErrSuperseded
	}
	v.cancel = nil
	if err != nil {
		v.state = StateIdle
		zap.S().Errorf("[ERROR] Route calculation failed: start=%q end=%q err=%v", start, end, err)
		return nil, err
	}

	route.Start = startLoc
	route.End = endLoc
	v.drawRouteLocked(route)
	v.route = route
	v.startLabel = labelOr(start, "Current location")
	v.endLabel = end
	v.state = StateNavigating

	zap.S().Infof("[MAP] Navigating: source=%s distance=%.0f steps=%d", route.Source, route.DistanceMeters, len(route.Directions))
	return &Result{
		Route:      route,
		Segments:   v.segments,
		Directions: route.Directions,
		State:      v.state,
	}, nil
}

// finishFailure leaves existing overlays untouched
func (v *View) finishFailure(gen uint64, err error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return ErrSuperseded
	}
	v.cancel = nil
	return err
}

func (v *View) resolveStart(ctx context.Context, start string) (models.Location, error) {
	if start != "" {
		return v.resolve(ctx, "start", start)
	}
	if v.positions == nil {
		return models.Location{}, &ErrLocationNotFound{Field: "start"}
	}
	fix, err := v.positions.CurrentPosition(ctx)
	if err != nil {
		return models.Location{}, &ErrLocationNotFound{Field: "start", Err: err}
	}
	return models.LocationAt(fix.Coords, "Current location"), nil
}

func (v *View) resolve(ctx context.Context, field, address string) (models.Location, error) {
	result, err := v.geocoder.Geocode(ctx, address)
	if err != nil {
		return models.Location{}, &ErrLocationNotFound{Field: field, Address: address, Err: err}
	}
	if result == nil {
		return models.Location{}, &ErrLocationNotFound{Field: field, Address: address}
	}
	return result.Location(), nil
}

// drawRouteLocked renders the route line, replaces it with coloured
// segments, then adds markers and fits the viewport
func (v *View) drawRouteLocked(route *models.Route) {
	line := models.LineString(route.Geometry)

	lineID := v.scene.Add(Overlay{Kind: KindRouteLine, Geometry: line, Color: safety.RouteColor})
	v.segments = safety.Split(route.Geometry)
	v.scene.Remove(lineID)

	// drawn segments start at the previous group's last point
	var prev []models.Coordinates
	for _, seg := range v.segments {
		pts := append(prev, seg.Points...)
		last := len(seg.Points)
		prev = seg.Points[last-1 : last : last]
		if len(pts) < 2 {
			continue
		}
		v.track(Overlay{
			Kind:     KindRouteSegment,
			Geometry: models.LineString(pts),
			Color:    safety.Color(seg.Level),
			Level:    seg.Level,
		})
	}

	v.track(Overlay{Kind: KindStartMarker, Geometry: route.Start.Coords().Point(), Label: route.Start.Address})
	v.track(Overlay{Kind: KindEndMarker, Geometry: route.End.Coords().Point(), Label: route.End.Address})

	if route.Source == models.RouteSourceFallback {
		v.track(Overlay{
			Kind:     KindRoutingControl,
			Geometry: models.LineString([]models.Coordinates{route.Start.Coords(), route.End.Coords()}),
		})
	}

	v.scene.FitBounds(line.Bound())
}

func (v *View) track(o Overlay) {
	v.routeOverlays = append(v.routeOverlays, v.scene.Add(o))
}

func (v *View) clearRouteLocked() {
	if len(v.routeOverlays) > 0 {
		v.scene.Remove(v.routeOverlays...)
	}
	v.routeOverlays = nil
	v.route = nil
	v.segments = nil
}

// Complete ends navigation and signals the page shell to open feedback
func (v *View) Complete() (CompletionSignal, error) {
	v.mu.Lock()
	if v.state != StateNavigating {
		v.mu.Unlock()
		return CompletionSignal{}, ErrInvalidTransition
	}
	v.state = StateComplete
	signal := CompletionSignal{Tab: FeedbackTab, Start: v.startLabel, Destination: v.endLabel}
	onComplete := v.onComplete
	v.mu.Unlock()

	if onComplete != nil {
		onComplete(signal)
	}
	return signal, nil
}

// Route returns the displayed route and its segments
func (v *View) Route() (*models.Route, []models.RouteSegment, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.route == nil {
		return nil, nil, false
	}
	return v.route, v.segments, true
}

// Close cancels any in-flight calculation
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.generation++
}

func labelOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
