package routing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/twpayne/go-polyline"
)

var testPath = [][]float64{
	{11.0168, 76.9558},
	{11.0200, 76.9600},
	{11.0268, 76.9658},
	{11.0368, 76.9758},
}

func testSteps() []map[string]interface{} {
	return []map[string]interface{}{
		{"distance": 1260.0, "duration": 120.0, "name": "Avinashi Road", "maneuver": map[string]interface{}{"type": "depart", "bearing_after": 45.0}},
		{"distance": 830.0, "duration": 90.0, "name": "Race Course Road", "maneuver": map[string]interface{}{"type": "turn", "modifier": "left"}},
		{"distance": 0.0, "duration": 0.0, "name": "", "maneuver": map[string]interface{}{"type": "arrive"}},
	}
}

func routeBody(geometry interface{}) map[string]interface{} {
	return map[string]interface{}{
		"code": "Ok",
		"routes": []map[string]interface{}{
			{
				"distance": 2090.0,
				"duration": 210.0,
				"geometry": geometry,
				"legs":     []map[string]interface{}{{"steps": testSteps()}},
			},
		},
	}
}

func geoJSONGeometry() map[string]interface{} {
	coords := make([][]float64, 0, len(testPath))
	for _, p := range testPath {
		coords = append(coords, []float64{p[1], p[0]})
	}
	return map[string]interface{}{"type": "LineString", "coordinates": coords}
}

func polylineGeometry() string {
	return string(polyline.EncodeCoords(testPath))
}

// newOSRMServer serves a route in the given geometry format and counts requests
func newOSRMServer(t *testing.T, geometry interface{}, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(routeBody(geometry))
	}))
	t.Cleanup(server.Close)
	return server
}

// newFailingServer always answers 503 and counts requests
func newFailingServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("service unavailable"))
	}))
	t.Cleanup(server.Close)
	return server
}
