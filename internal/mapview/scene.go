package mapview

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"saferoute/internal/models"
)

// OverlayKind identifies what an overlay represents on the map
type OverlayKind string

const (
	KindSafetyZone     OverlayKind = "safety-zone"
	KindUserMarker     OverlayKind = "user-marker"
	KindAccuracyCircle OverlayKind = "accuracy-circle"
	KindRouteLine      OverlayKind = "route-line"
	KindRouteSegment   OverlayKind = "route-segment"
	KindStartMarker    OverlayKind = "start-marker"
	KindEndMarker      OverlayKind = "end-marker"
	KindRoutingControl OverlayKind = "routing-control"
)

// Overlay is one drawable item on the scene. Circles are a Point geometry
// with a positive RadiusMeters.
type Overlay struct {
	ID           string
	Kind         OverlayKind
	Geometry     orb.Geometry
	Color        string
	RadiusMeters float64
	Label        string
	Level        models.RiskLevel
}

// Scene is the server-side overlay set a client renders. Safe for concurrent use.
type Scene struct {
	mu       sync.RWMutex
	seq      uint64
	overlays map[string]Overlay
	viewport *orb.Bound
	center   orb.Point
	zoom     int
}

// NewScene creates an empty scene centered on center
func NewScene(center models.Coordinates, zoom int) *Scene {
	return &Scene{
		overlays: make(map[string]Overlay),
		center:   center.Point(),
		zoom:     zoom,
	}
}

// Add draws o and returns its assigned ID
func (s *Scene) Add(o Overlay) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	o.ID = string(o.Kind) + "-" + strconv.FormatUint(s.seq, 10)
	s.overlays[o.ID] = o
	return o.ID
}

// Remove deletes the given overlays and returns how many existed
func (s *Scene) Remove(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := s.overlays[id]; ok {
			delete(s.overlays, id)
			removed++
		}
	}
	return removed
}

// RemoveKinds deletes every overlay of the given kinds
func (s *Scene) RemoveKinds(kinds ...OverlayKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, o := range s.overlays {
		for _, k := range kinds {
			if o.Kind == k {
				delete(s.overlays, id)
				removed++
				break
			}
		}
	}
	return removed
}

// Count returns the number of overlays on the scene
func (s *Scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.overlays)
}

// CountKind returns the number of overlays of kind k
func (s *Scene) CountKind(k OverlayKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, o := range s.overlays {
		if o.Kind == k {
			n++
		}
	}
	return n
}

// Overlays returns a snapshot ordered by draw sequence
func (s *Scene) Overlays() []Overlay {
	s.mu.RLock()
	out := make([]Overlay, 0, len(s.overlays))
	for _, o := range s.overlays {
		out = append(out, o)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return overlaySeq(out[i].ID) < overlaySeq(out[j].ID)
	})
	return out
}

// FitBounds sets the viewport to b
func (s *Scene) FitBounds(b orb.Bound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = &b
}

// Viewport returns the fitted bounds, if any
func (s *Scene) Viewport() (orb.Bound, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.viewport == nil {
		return orb.Bound{}, false
	}
	return *s.viewport, true
}

// FeatureCollection renders the scene as GeoJSON
func (s *Scene) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, o := range s.Overlays() {
		f := geojson.NewFeature(o.Geometry)
		f.ID = o.ID
		f.Properties["kind"] = string(o.Kind)
		if o.Color != "" {
			f.Properties["color"] = o.Color
		}
		if o.RadiusMeters > 0 {
			f.Properties["radius"] = o.RadiusMeters
		}
		if o.Label != "" {
			f.Properties["label"] = o.Label
		}
		if o.Level != "" {
			f.Properties["level"] = string(o.Level)
		}
		fc.Append(f)
	}
	return fc
}

type sceneJSON struct {
	Center   [2]float64                 `json:"center"`
	Zoom     int                        `json:"zoom"`
	Bounds   *[4]float64                `json:"bounds,omitempty"`
	Overlays *geojson.FeatureCollection `json:"overlays"`
}

// MarshalJSON encodes the view settings and overlays. Coordinates are [lng, lat].
func (s *Scene) MarshalJSON() ([]byte, error) {
	fc := s.FeatureCollection()

	s.mu.RLock()
	out := sceneJSON{
		Center:   [2]float64{s.center.Lon(), s.center.Lat()},
		Zoom:     s.zoom,
		Overlays: fc,
	}
	if s.viewport != nil {
		b := *s.viewport
		out.Bounds = &[4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
	}
	s.mu.RUnlock()

	return json.Marshal(out)
}

func overlaySeq(id string) uint64 {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '-' {
			n, _ := strconv.ParseUint(id[i+1:], 10, 64)
			return n
		}
	}
	return 0
}
