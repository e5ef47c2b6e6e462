package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"saferoute/internal/geocoding"
	"saferoute/internal/models"
	"saferoute/internal/notify"
)

// GeocodeCall tracks a call to the geocoder
type GeocodeCall struct {
	Address string
}

// MockGeocoder resolves addresses from a fixed table. Unknown addresses
// are a lookup miss (nil, nil).
type MockGeocoder struct {
	mu        sync.Mutex
	Addresses map[string]models.Coordinates
	Errors    map[string]error
	Calls     []GeocodeCall
}

func NewMockGeocoder() *MockGeocoder {
	return &MockGeocoder{
		Addresses: make(map[string]models.Coordinates),
		Errors:    make(map[string]error),
	}
}

// Set registers coordinates for address
func (m *MockGeocoder) Set(address string, c models.Coordinates) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Addresses[strings.ToLower(address)] = c
}

// Fail makes address return err
func (m *MockGeocoder) Fail(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[strings.ToLower(address)] = err
}

func (m *MockGeocoder) Geocode(ctx context.Context, address string) (*geocoding.GeocodingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.TrimSpace(address) == "" {
		return nil, nil
	}
	m.Calls = append(m.Calls, GeocodeCall{Address: address})

	key := strings.ToLower(address)
	if err, ok := m.Errors[key]; ok {
		return nil, err
	}
	c, ok := m.Addresses[key]
	if !ok {
		return nil, nil
	}
	return &geocoding.GeocodingResult{Coords: c, DisplayName: address}, nil
}

func (m *MockGeocoder) Search(ctx context.Context, query string, limit int) ([]geocoding.GeocodingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := []geocoding.GeocodingResult{}
	if len(strings.TrimSpace(query)) < geocoding.MinSearchLength {
		return results, nil
	}
	q := strings.ToLower(query)
	for addr, c := range m.Addresses {
		if strings.Contains(addr, q) && len(results) < limit {
			results = append(results, geocoding.GeocodingResult{Coords: c, DisplayName: addr})
		}
	}
	return results, nil
}

func (m *MockGeocoder) Reverse(ctx context.Context, c models.Coordinates) (*geocoding.GeocodingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, known := range m.Addresses {
		if known == c {
			return &geocoding.GeocodingResult{Coords: c, DisplayName: addr}, nil
		}
	}
	return nil, nil
}

// CallCount returns how many non-blank lookups were made
func (m *MockGeocoder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockPositions returns a fixed fix, or Err when set
type MockPositions struct {
	mu    sync.Mutex
	Fix   models.Fix
	Err   error
	Calls int
}

func (m *MockPositions) CurrentPosition(ctx context.Context) (models.Fix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return models.Fix{}, m.Err
	}
	return m.Fix, nil
}

// RouteCall tracks a call to the route engine
type RouteCall struct {
	Start models.Coordinates
	End   models.Coordinates
}

// MockRouteEngine returns a straight-line route with Points geometry points
// and one step per point pair
type MockRouteEngine struct {
	mu     sync.Mutex
	Points int
	Source models.RouteSource
	Err    error
	// Block, when set, is waited on (or ctx) before answering
	Block chan struct{}
	Calls []RouteCall
}

func NewMockRouteEngine(points int) *MockRouteEngine {
	return &MockRouteEngine{Points: points, Source: models.RouteSourcePrimary}
}

func (m *MockRouteEngine) Route(ctx context.Context, start, end models.Coordinates) (*models.Route, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RouteCall{Start: start, End: end})
	block, err, n, source := m.Block, m.Err, m.Points, m.Source
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if n < 2 {
		n = 2
	}

	geometry := make([]models.Coordinates, n)
	for i := range geometry {
		f := float64(i) / float64(n-1)
		geometry[i] = models.Coordinates{
			Lat: start.Lat + (end.Lat-start.Lat)*f,
			Lng: start.Lng + (end.Lng-start.Lng)*f,
		}
	}

	steps := make([]models.RouteStep, 0, n-1)
	directions := make([]string, 0, n-1)
	for i := 1; i < n; i++ {
		d := models.DistanceMeters(geometry[i-1], geometry[i])
		instr := fmt.Sprintf("Step %d", i)
		steps = append(steps, models.RouteStep{Instruction: instr, DistanceMeters: d})
		directions = append(directions, fmt.Sprintf("%s for %.1f km", instr, d/1000))
	}

	return &models.Route{
		Start:          models.LocationAt(start, ""),
		End:            models.LocationAt(end, ""),
		Geometry:       geometry,
		Steps:          steps,
		Directions:     directions,
		DistanceMeters: models.PathLength(geometry),
		Source:         source,
	}, nil
}

// SetBlock replaces the channel calls wait on
func (m *MockRouteEngine) SetBlock(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Block = ch
}

// CallCount returns the number of Route calls
func (m *MockRouteEngine) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockMailer records messages and fails for addresses listed in FailFor
type MockMailer struct {
	mu      sync.Mutex
	FailFor map[string]error
	Sent    []notify.Message
}

func NewMockMailer() *MockMailer {
	return &MockMailer{FailFor: make(map[string]error)}
}

func (m *MockMailer) Send(ctx context.Context, msg notify.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailFor[msg.To]; ok {
		return "", err
	}
	m.Sent = append(m.Sent, msg)
	return fmt.Sprintf("msg-%d", len(m.Sent)), nil
}

// Messages returns a copy of the delivered messages
func (m *MockMailer) Messages() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.Sent...)
}
