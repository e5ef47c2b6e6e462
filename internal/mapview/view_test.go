package mapview

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saferoute/internal/models"
	"saferoute/internal/testutil"
)

var (
	gandhipuram = models.Coordinates{Lat: 11.0168, Lng: 76.9558}
	peelamedu   = models.Coordinates{Lat: 11.0268, Lng: 77.0000}
	rsPuram     = models.Coordinates{Lat: 11.0100, Lng: 76.9500}
	testZones   = []models.SafetyZone{
		{Center: gandhipuram, RadiusMeters: 500, Level: models.HighRisk},
		{Center: peelamedu, RadiusMeters: 300, Level: models.MediumRisk},
		{Center: rsPuram, RadiusMeters: 400, Level: models.Safe},
	}
)

type viewFixture struct {
	view      *View
	scene     *Scene
	geocoder  *testutil.MockGeocoder
	positions *testutil.MockPositions
	engine    *testutil.MockRouteEngine
}

func newViewFixture(t *testing.T) *viewFixture {
	t.Helper()
	geocoder := testutil.NewMockGeocoder()
	geocoder.Set("Gandhipuram", gandhipuram)
	geocoder.Set("Peelamedu", peelamedu)
	geocoder.Set("RS Puram", rsPuram)

	positions := &testutil.MockPositions{Fix: models.Fix{Coords: rsPuram, AccuracyMeters: 20}}
	engine := testutil.NewMockRouteEngine(10)
	scene := NewScene(gandhipuram, 12)

	view := NewView(scene, geocoder, positions, engine, Options{Zones: testZones})
	require.NoError(t, view.Load())

	return &viewFixture{view: view, scene: scene, geocoder: geocoder, positions: positions, engine: engine}
}

func routeOverlayCount(s *Scene) int {
	return s.CountKind(KindRouteLine) + s.CountKind(KindRouteSegment) +
		s.CountKind(KindStartMarker) + s.CountKind(KindEndMarker) + s.CountKind(KindRoutingControl)
}

func TestLoadDrawsZonesOnce(t *testing.T) {
	f := newViewFixture(t)

	assert.Equal(t, StateLoaded, f.view.State())
	assert.Equal(t, 3, f.scene.CountKind(KindSafetyZone))

	err := f.view.Load()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 3, f.scene.CountKind(KindSafetyZone))
}

func TestCalculateBeforeLoad(t *testing.T) {
	view := NewView(NewScene(gandhipuram, 12), testutil.NewMockGeocoder(), nil, testutil.NewMockRouteEngine(3), Options{})

	_, err := view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")

	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCalculateRouteSuccess(t *testing.T) {
	f := newViewFixture(t)

	result, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")

	require.NoError(t, err)
	assert.Equal(t, StateNavigating, result.State)
	assert.Equal(t, StateNavigating, f.view.State())
	assert.Len(t, result.Directions, 9)

	require.Len(t, result.Segments, 3)
	assert.Equal(t, 0, f.scene.CountKind(KindRouteLine))
	assert.Equal(t, 3, f.scene.CountKind(KindRouteSegment))
	assert.Equal(t, 1, f.scene.CountKind(KindStartMarker))
	assert.Equal(t, 1, f.scene.CountKind(KindEndMarker))
	assert.Equal(t, 0, f.scene.CountKind(KindRoutingControl))

	bounds, ok := f.scene.Viewport()
	require.True(t, ok)
	assert.True(t, bounds.Contains(gandhipuram.Point()))
	assert.True(t, bounds.Contains(peelamedu.Point()))

	assert.Equal(t, "Gandhipuram", result.Route.Start.Address)
	assert.Equal(t, "Peelamedu", result.Route.End.Address)
}

func TestRouteSegmentsJoin(t *testing.T) {
	for _, points := range []int{2, 4, 5, 10} {
		f := newViewFixture(t)
		f.engine.Points = points

		result, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
		require.NoError(t, err)

		var lines []orb.LineString
		for _, o := range f.scene.Overlays() {
			if o.Kind == KindRouteSegment {
				ls, ok := o.Geometry.(orb.LineString)
				require.True(t, ok)
				lines = append(lines, ls)
			}
		}
		require.NotEmpty(t, lines, "points=%d", points)

		for i, ls := range lines {
			assert.GreaterOrEqual(t, len(ls), 2, "points=%d line=%d", points, i)
			if i > 0 {
				assert.Equal(t, lines[i-1][len(lines[i-1])-1], ls[0], "points=%d line=%d", points, i)
			}
		}

		geometry := result.Route.Geometry
		assert.Equal(t, geometry[0].Point(), lines[0][0])
		last := lines[len(lines)-1]
		assert.Equal(t, geometry[len(geometry)-1].Point(), last[len(last)-1])

		total := 0
		for _, seg := range result.Segments {
			total += len(seg.Points)
		}
		assert.Equal(t, points, total, "segment groups keep their split sizes")
	}
}

func TestBlankStartUsesCurrentPosition(t *testing.T) {
	for _, start := range []string{"", "  ", "\t"} {
		f := newViewFixture(t)

		_, err := f.view.CalculateRoute(context.Background(), start, "Peelamedu")

		require.NoError(t, err)
		require.Equal(t, 1, f.engine.CallCount())
		assert.Equal(t, rsPuram, f.engine.Calls[0].Start)
		assert.Equal(t, 1, f.positions.Calls)
		assert.Equal(t, 1, f.geocoder.CallCount(), "only the destination is geocoded")
	}
}

func TestBlankStartWithoutPosition(t *testing.T) {
	f := newViewFixture(t)
	f.positions.Err = errors.New("location unavailable")

	_, err := f.view.CalculateRoute(context.Background(), "", "Peelamedu")

	var notFound *ErrLocationNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "start", notFound.Field)
	assert.Equal(t, 0, f.engine.CallCount())
}

func TestGeocodeMissDrawsNothing(t *testing.T) {
	tests := []struct {
		name, start, end, field string
	}{
		{"unknown start", "Atlantis", "Peelamedu", "start"},
		{"unknown destination", "Gandhipuram", "Atlantis", "destination"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newViewFixture(t)

			_, err := f.view.CalculateRoute(context.Background(), tt.start, tt.end)

			var notFound *ErrLocationNotFound
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, tt.field, notFound.Field)
			assert.Equal(t, "Could not find "+tt.field+" location", err.Error())
			assert.Equal(t, 0, routeOverlayCount(f.scene))
			assert.Equal(t, 3, f.scene.Count())
			assert.Equal(t, 0, f.engine.CallCount())
		})
	}
}

func TestGeocodeMissKeepsExistingRoute(t *testing.T) {
	f := newViewFixture(t)
	_, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
	require.NoError(t, err)
	before := f.scene.Overlays()

	_, err = f.view.CalculateRoute(context.Background(), "Gandhipuram", "Atlantis")
	require.Error(t, err)

	assert.Equal(t, before, f.scene.Overlays())
	assert.Equal(t, StateNavigating, f.view.State())
}

func TestDestinationRequired(t *testing.T) {
	f := newViewFixture(t)

	_, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", " ")

	assert.ErrorIs(t, err, ErrDestinationRequired)
	assert.Equal(t, 0, f.geocoder.CallCount())
}

func TestRepeatedCalculationsDoNotGrowOverlays(t *testing.T) {
	f := newViewFixture(t)

	_, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
	require.NoError(t, err)
	expected := f.scene.Count()

	for i := 0; i < 10; i++ {
		_, err := f.view.CalculateRoute(context.Background(), "RS Puram", "Peelamedu")
		require.NoError(t, err)
		assert.Equal(t, expected, f.scene.Count(), "iteration %d", i)
	}
}

func TestRoutingFailureClearsRoute(t *testing.T) {
	f := newViewFixture(t)
	_, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
	require.NoError(t, err)

	f.engine.Err = errors.New("routing failed: both paths down")

	_, err = f.view.CalculateRoute(context.Background(), "Gandhipuram", "RS Puram")

	require.Error(t, err)
	assert.Equal(t, 0, routeOverlayCount(f.scene))
	assert.Equal(t, StateIdle, f.view.State())
	_, _, ok := f.view.Route()
	assert.False(t, ok)
}

func TestFallbackRouteDrawsRoutingControl(t *testing.T) {
	f := newViewFixture(t)
	f.engine.Source = models.RouteSourceFallback

	_, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
	require.NoError(t, err)
	assert.Equal(t, 1, f.scene.CountKind(KindRoutingControl))

	f.engine.Source = models.RouteSourcePrimary
	_, err = f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
	require.NoError(t, err)
	assert.Equal(t, 0, f.scene.CountKind(KindRoutingControl))
}

func TestCompleteNavigation(t *testing.T) {
	var signals []CompletionSignal
	f := newViewFixture(t)
	f.view.onComplete = func(s CompletionSignal) { signals = append(signals, s) }

	_, err := f.view.Complete()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.view.CalculateRoute(context.Background(), "", "Peelamedu")
	require.NoError(t, err)

	signal, err := f.view.Complete()
	require.NoError(t, err)
	assert.Equal(t, StateComplete, f.view.State())
	assert.Equal(t, CompletionSignal{Tab: FeedbackTab, Start: "Current location", Destination: "Peelamedu"}, signal)
	require.Len(t, signals, 1)

	_, err = f.view.Complete()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
	require.NoError(t, err)
	assert.Equal(t, StateNavigating, f.view.State())
}

func TestNewerCalculationSupersedesInFlight(t *testing.T) {
	f := newViewFixture(t)
	f.engine.SetBlock(make(chan struct{}))

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
		firstErr <- err
	}()

	require.Eventually(t, func() bool { return f.engine.CallCount() == 1 }, time.Second, time.Millisecond)

	f.engine.SetBlock(nil)
	result, err := f.view.CalculateRoute(context.Background(), "RS Puram", "Peelamedu")
	require.NoError(t, err)

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("first calculation did not return")
	}

	assert.Equal(t, rsPuram, result.Route.Start.Coords())
	assert.Equal(t, 3, f.scene.CountKind(KindRouteSegment))
}

func TestSceneJSON(t *testing.T) {
	f := newViewFixture(t)
	_, err := f.view.CalculateRoute(context.Background(), "Gandhipuram", "Peelamedu")
	require.NoError(t, err)

	data, err := json.Marshal(f.scene)
	require.NoError(t, err)

	var decoded struct {
		Center   [2]float64 `json:"center"`
		Bounds   []float64  `json:"bounds"`
		Overlays struct {
			Type     string `json:"type"`
			Features []struct {
				Properties map[string]interface{} `json:"properties"`
			} `json:"features"`
		} `json:"overlays"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, [2]float64{gandhipuram.Lng, gandhipuram.Lat}, decoded.Center)
	assert.Len(t, decoded.Bounds, 4)
	assert.Equal(t, "FeatureCollection", decoded.Overlays.Type)
	require.Len(t, decoded.Overlays.Features, f.scene.Count())
	assert.Equal(t, "safety-zone", decoded.Overlays.Features[0].Properties["kind"])
	assert.Equal(t, "#ea384c", decoded.Overlays.Features[0].Properties["color"])
}
