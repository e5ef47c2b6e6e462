package geolocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"saferoute/internal/mapview"
	"saferoute/internal/models"
)

// Layer is the part of the map scene the tracker draws on
type Layer interface {
	Add(o mapview.Overlay) string
	Remove(ids ...string) int
	RemoveKinds(kinds ...mapview.OverlayKind) int
}

// TrackerOptions tunes fix acquisition
type TrackerOptions struct {
	// FixTimeout bounds each one-shot request and the gap tolerated between watched fixes
	FixTimeout time.Duration
}

// Tracker keeps the user's current position fresh and mirrors it on the map
type Tracker struct {
	source     PositionSource
	ipLocator  IPLocator
	layer      Layer
	fixTimeout time.Duration

	mu       sync.Mutex
	clientIP string
	last     *models.Fix
	markerID string
	circleID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTracker creates a tracker. ipLocator may be nil to disable the IP fallback.
func NewTracker(source PositionSource, ipLocator IPLocator, layer Layer, opts TrackerOptions) *Tracker {
	timeout := opts.FixTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tracker{
		source:     source,
		ipLocator:  ipLocator,
		layer:      layer,
		fixTimeout: timeout,
	}
}

// SetClientIP sets the address used for IP fallback lookups
func (t *Tracker) SetClientIP(ip string) {
	t.mu.Lock()
	t.clientIP = ip
	t.mu.Unlock()
}

// Start takes one immediate fix, then watches for further fixes until Stop.
// The watch keeps running when the initial fix fails; that error is returned.
// Calling Start while already tracking is a no-op.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	// subscribe before the first fix so none are missed
	updates, unsubscribe := t.source.Subscribe()

	fix, err := t.fresh(ctx)
	if err != nil {
		zap.S().Warnf("[GEOLOCATION] Initial fix unavailable: err=%v", err)
	} else {
		t.apply(fix)
	}

	go t.watch(watchCtx, updates, unsubscribe, done)
	zap.S().Infof("[GEOLOCATION] Tracking started")
	return err
}

func (t *Tracker) watch(ctx context.Context, updates <-chan models.Fix, unsubscribe func(), done chan struct{}) {
	defer close(done)
	defer unsubscribe()

	timer := time.NewTimer(t.fixTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fix := <-updates:
			t.apply(fix)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(t.fixTimeout)
		case <-timer.C:
			if _, ok := t.Last(); !ok {
				if fix, err := t.locateByIP(ctx); err == nil {
					t.apply(fix)
				}
			}
			timer.Reset(t.fixTimeout)
		}
	}
}

// CurrentPosition returns the last known fix, or requests a fresh one
func (t *Tracker) CurrentPosition(ctx context.Context) (models.Fix, error) {
	if fix, ok := t.Last(); ok {
		return fix, nil
	}
	fix, err := t.fresh(ctx)
	if err != nil {
		return models.Fix{}, err
	}
	t.apply(fix)
	return fix, nil
}

// Last returns the cached fix, if any
func (t *Tracker) Last() (models.Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return models.Fix{}, false
	}
	return *t.last, true
}

// Tracking reports whether a watch is active
func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Stop cancels the watch and removes every user-location overlay from the
// layer. Safe to call repeatedly or without Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		zap.S().Infof("[GEOLOCATION] Tracking stopped")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.layer != nil {
		t.layer.RemoveKinds(mapview.KindUserMarker, mapview.KindAccuracyCircle)
	}
	t.markerID, t.circleID = "", ""
}

func (t *Tracker) fresh(ctx context.Context) (models.Fix, error) {
	fixCtx, cancel := context.WithTimeout(ctx, t.fixTimeout)
	defer cancel()

	// a fix reported within the last fixTimeout still counts as fresh
	fix, err := t.source.Next(fixCtx, time.Now().Add(-t.fixTimeout))
	if err == nil {
		return fix, nil
	}
	zap.S().Warnf("[GEOLOCATION] Device fix failed, falling back to IP: err=%v", err)

	ipFix, ipErr := t.locateByIP(ctx)
	if ipErr != nil {
		return models.Fix{}, fmt.Errorf("device: %v; ip fallback: %w", err, ipErr)
	}
	return ipFix, nil
}

func (t *Tracker) locateByIP(ctx context.Context) (models.Fix, error) {
	if t.ipLocator == nil {
		return models.Fix{}, &ErrLocateFailed{Source: models.FixSourceIP, Reason: "ip fallback disabled"}
	}
	t.mu.Lock()
	ip := t.clientIP
	t.mu.Unlock()
	return t.ipLocator.Locate(ctx, ip)
}

// apply caches fix and redraws the marker and accuracy circle. Last update wins.
func (t *Tracker) apply(fix models.Fix) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearOverlaysLocked()

	f := fix
	t.last = &f

	if t.layer == nil {
		return
	}
	label := "Your location"
	if fix.Approximate {
		label = "Approximate location"
	}
	t.markerID = t.layer.Add(mapview.Overlay{
		Kind:     mapview.KindUserMarker,
		Geometry: fix.Coords.Point(),
		Label:    label,
	})
	if fix.AccuracyMeters > 0 {
		t.circleID = t.layer.Add(mapview.Overlay{
			Kind:         mapview.KindAccuracyCircle,
			Geometry:     fix.Coords.Point(),
			RadiusMeters: fix.AccuracyMeters,
			Color:        "#4a90d9",
		})
	}
}

func (t *Tracker) clearOverlaysLocked() {
	if t.layer == nil {
		return
	}
	if t.markerID != "" || t.circleID != "" {
		t.layer.Remove(t.markerID, t.circleID)
	}
	t.markerID, t.circleID = "", ""
}
