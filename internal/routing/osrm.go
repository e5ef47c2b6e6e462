package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/twpayne/go-polyline"
	"go.uber.org/zap"

	"saferoute/internal/models"
)

// Router calculates a single route between two points
type Router interface {
	Route(ctx context.Context, start, end models.Coordinates) (*models.Route, error)
}

// ErrRoutingFailed is returned when no route could be obtained
type ErrRoutingFailed struct {
	Source models.RouteSource
	Reason string
}

func (e *ErrRoutingFailed) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("routing failed: %s", e.Reason)
	}
	return fmt.Sprintf("routing failed (%s): %s", e.Source, e.Reason)
}

type geometryFormat string

const (
	geometryGeoJSON  geometryFormat = "geojson"
	geometryPolyline geometryFormat = "polyline"
)

type osrmRouteResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64         `json:"distance"`
	Duration float64         `json:"duration"`
	Geometry json.RawMessage `json:"geometry"`
	Legs     []osrmLeg       `json:"legs"`
}

type osrmLeg struct {
	Steps []osrmStep `json:"steps"`
}

type osrmStep struct {
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Name     string       `json:"name"`
	Ref      string       `json:"ref"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmManeuver struct {
	Type         string  `json:"type"`
	Modifier     string  `json:"modifier"`
	BearingAfter float64 `json:"bearing_after"`
	Exit         int     `json:"exit"`
}

type lineGeometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

type osrmRouter struct {
	baseURL    string
	profile    string
	httpClient *http.Client
}

// NewOSRMRouter creates a router for the OSRM /route/v1 API
func NewOSRMRouter(baseURL, profile string, timeout time.Duration) Router {
	return &osrmRouter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		profile:    orDefault(profile, "driving"),
		httpClient: &http.Client{Timeout: orTimeout(timeout)},
	}
}

func (r *osrmRouter) Route(ctx context.Context, start, end models.Coordinates) (*models.Route, error) {
	route, err := fetchRoute(ctx, r.httpClient, r.baseURL, r.profile, start, end, geometryGeoJSON)
	if err != nil {
		return nil, &ErrRoutingFailed{Source: models.RouteSourcePrimary, Reason: err.Error()}
	}
	route.Source = models.RouteSourcePrimary
	return route, nil
}

func routeURL(baseURL, profile string, start, end models.Coordinates, format geometryFormat) string {
	return fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=%s&steps=true",
		baseURL, profile, start.Lng, start.Lat, end.Lng, end.Lat, format)
}

// fetchRoute performs one OSRM route request and converts the first route
func fetchRoute(ctx context.Context, client *http.Client, baseURL, profile string, start, end models.Coordinates, format geometryFormat) (*models.Route, error) {
	queryURL := routeURL(baseURL, profile, start, end, format)
	zap.S().Infof("[OSRM] Route request: start=(%.6f,%.6f) end=(%.6f,%.6f) url=%s", start.Lat, start.Lng, end.Lat, end.Lng, queryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		zap.S().Errorf("[ERROR] OSRM API request failed: url=%s err=%v", queryURL, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		zap.S().Errorf("[ERROR] OSRM API error: status=%d body=%s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	route, err := parseRoute(body, format)
	if err != nil {
		zap.S().Errorf("[ERROR] Invalid OSRM response: err=%v", err)
		return nil, err
	}

	route.Start = models.LocationAt(start, "")
	route.End = models.LocationAt(end, "")
	zap.S().Infof("[OSRM] Route calculated: distance=%.0f duration=%.0f points=%d steps=%d", route.DistanceMeters, route.DurationSecs, len(route.Geometry), len(route.Steps))
	return route, nil
}

func parseRoute(body []byte, format geometryFormat) (*models.Route, error) {
	var osrmResp osrmRouteResponse
	if err := json.Unmarshal(body, &osrmResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if osrmResp.Code != "Ok" {
		return nil, fmt.Errorf("OSRM code %s: %s", osrmResp.Code, osrmResp.Message)
	}
	if len(osrmResp.Routes) == 0 {
		return nil, fmt.Errorf("no route found")
	}

	r := osrmResp.Routes[0]
	geometry, err := decodeGeometry(r.Geometry, format)
	if err != nil {
		return nil, err
	}
	if len(geometry) < 2 {
		return nil, fmt.Errorf("route geometry has %d points", len(geometry))
	}

	var steps []models.RouteStep
	for _, leg := range r.Legs {
		for _, s := range leg.Steps {
			steps = append(steps, models.RouteStep{
				Instruction:    instructionFor(s),
				DistanceMeters: s.Distance,
				DurationSecs:   s.Duration,
			})
		}
	}

	return &models.Route{
		Geometry:       geometry,
		Steps:          steps,
		Directions:     Directions(steps),
		DistanceMeters: r.Distance,
		DurationSecs:   r.Duration,
	}, nil
}

func decodeGeometry(raw json.RawMessage, format geometryFormat) ([]models.Coordinates, error) {
	switch format {
	case geometryPolyline:
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("decode polyline geometry: %w", err)
		}
		coords, _, err := polyline.DecodeCoords([]byte(encoded))
		if err != nil {
			return nil, fmt.Errorf("decode polyline geometry: %w", err)
		}
		points := make([]models.Coordinates, 0, len(coords))
		for _, c := range coords {
			points = append(points, models.Coordinates{Lat: c[0], Lng: c[1]})
		}
		return points, nil
	default:
		var line lineGeometry
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("decode geojson geometry: %w", err)
		}
		points := make([]models.Coordinates, 0, len(line.Coordinates))
		for _, c := range line.Coordinates {
			if len(c) < 2 {
				return nil, fmt.Errorf("malformed coordinate %v", c)
			}
			points = append(points, models.Coordinates{Lat: c[1], Lng: c[0]})
		}
		return points, nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 20 * time.Second
	}
	return d
}
