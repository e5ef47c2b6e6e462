package geolocation

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saferoute/internal/mapview"
	"saferoute/internal/models"
)

type stubIPLocator struct {
	fix   models.Fix
	err   error
	calls int32
}

func (s *stubIPLocator) Locate(ctx context.Context, ip string) (models.Fix, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fix, s.err
}

func newTestScene() *mapview.Scene {
	return mapview.NewScene(models.Coordinates{Lat: 11.0168, Lng: 76.9558}, 12)
}

func deviceFix(lat, lng float64) models.Fix {
	return models.Fix{
		Coords:         models.Coordinates{Lat: lat, Lng: lng},
		AccuracyMeters: 15,
		Timestamp:      time.Now(),
	}
}

func TestTrackerStartDrawsMarkerAndAccuracy(t *testing.T) {
	src := NewReportedSource()
	scene := newTestScene()
	tracker := NewTracker(src, nil, scene, TrackerOptions{FixTimeout: time.Second})
	defer tracker.Stop()

	go func() {
		time.Sleep(10 * time.Millisecond)
		src.Report(deviceFix(11.02, 76.96))
	}()

	require.NoError(t, tracker.Start(context.Background()))

	assert.True(t, tracker.Tracking())
	assert.Equal(t, 1, scene.CountKind(mapview.KindUserMarker))
	assert.Equal(t, 1, scene.CountKind(mapview.KindAccuracyCircle))

	fix, ok := tracker.Last()
	require.True(t, ok)
	assert.Equal(t, 11.02, fix.Coords.Lat)
}

func TestTrackerWatchReplacesOverlays(t *testing.T) {
	src := NewReportedSource()
	scene := newTestScene()
	tracker := NewTracker(src, nil, scene, TrackerOptions{FixTimeout: time.Second})
	defer tracker.Stop()

	go func() {
		time.Sleep(10 * time.Millisecond)
		src.Report(deviceFix(11.0, 76.0))
	}()
	require.NoError(t, tracker.Start(context.Background()))

	for i := 1; i <= 5; i++ {
		require.NoError(t, src.Report(deviceFix(11.0+float64(i)/100, 76.0)))
	}

	assert.Eventually(t, func() bool {
		fix, _ := tracker.Last()
		return math.Abs(fix.Coords.Lat-11.05) < 1e-9
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, scene.Count())
	assert.Equal(t, 1, scene.CountKind(mapview.KindUserMarker))
}

func TestTrackerFallsBackToIP(t *testing.T) {
	ip := &stubIPLocator{fix: models.Fix{
		Coords:         models.Coordinates{Lat: 11.0, Lng: 76.9},
		AccuracyMeters: ApproximateAccuracyMeters,
		Approximate:    true,
		Source:         models.FixSourceIP,
	}}
	scene := newTestScene()
	tracker := NewTracker(NewReportedSource(), ip, scene, TrackerOptions{FixTimeout: 20 * time.Millisecond})

	fix, err := tracker.CurrentPosition(context.Background())

	require.NoError(t, err)
	assert.True(t, fix.Approximate)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ip.calls))
	assert.Equal(t, 1, scene.CountKind(mapview.KindUserMarker))
}

func TestTrackerCurrentPositionUsesCache(t *testing.T) {
	ip := &stubIPLocator{fix: models.Fix{Coords: models.Coordinates{Lat: 1, Lng: 1}, Approximate: true}}
	tracker := NewTracker(NewReportedSource(), ip, newTestScene(), TrackerOptions{FixTimeout: 20 * time.Millisecond})

	first, err := tracker.CurrentPosition(context.Background())
	require.NoError(t, err)
	second, err := tracker.CurrentPosition(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ip.calls))
}

func TestTrackerCurrentPositionBothSourcesFail(t *testing.T) {
	ip := &stubIPLocator{err: errors.New("service down")}
	scene := newTestScene()
	tracker := NewTracker(NewReportedSource(), ip, scene, TrackerOptions{FixTimeout: 10 * time.Millisecond})

	_, err := tracker.CurrentPosition(context.Background())

	assert.Error(t, err)
	assert.Equal(t, 0, scene.Count())
}

func TestTrackerStopIsIdempotent(t *testing.T) {
	src := NewReportedSource()
	scene := newTestScene()
	tracker := NewTracker(src, nil, scene, TrackerOptions{FixTimeout: time.Second})

	// never started
	tracker.Stop()

	go func() {
		time.Sleep(10 * time.Millisecond)
		src.Report(deviceFix(11.0, 76.9))
	}()
	require.NoError(t, tracker.Start(context.Background()))
	require.Equal(t, 2, scene.Count())

	tracker.Stop()
	tracker.Stop()

	assert.False(t, tracker.Tracking())
	assert.Equal(t, 0, scene.Count())
}

func TestTrackerAcceptsRecentlyReportedFix(t *testing.T) {
	src := NewReportedSource()
	ip := &stubIPLocator{err: errors.New("should not be called")}
	tracker := NewTracker(src, ip, newTestScene(), TrackerOptions{FixTimeout: time.Second})

	require.NoError(t, src.Report(deviceFix(11.03, 76.97)))

	fix, err := tracker.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.FixSourceDevice, fix.Source)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ip.calls))
}

func TestTrackerStopClearsLocationLayer(t *testing.T) {
	scene := newTestScene()
	scene.Add(mapview.Overlay{Kind: mapview.KindUserMarker, Geometry: orb.Point{76.9, 11.0}})
	scene.Add(mapview.Overlay{Kind: mapview.KindAccuracyCircle, Geometry: orb.Point{76.9, 11.0}, RadiusMeters: 30})
	scene.Add(mapview.Overlay{Kind: mapview.KindSafetyZone, Geometry: orb.Point{76.9, 11.0}, RadiusMeters: 500})

	tracker := NewTracker(NewReportedSource(), nil, scene, TrackerOptions{FixTimeout: time.Second})
	tracker.Stop()

	assert.Equal(t, 0, scene.CountKind(mapview.KindUserMarker))
	assert.Equal(t, 0, scene.CountKind(mapview.KindAccuracyCircle))
	assert.Equal(t, 1, scene.CountKind(mapview.KindSafetyZone))
}
