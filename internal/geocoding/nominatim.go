package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"saferoute/internal/cache"
	"saferoute/internal/metrics"
	"saferoute/internal/models"
)

// MinSearchLength is the shortest query Search will send upstream
const MinSearchLength = 4

// GeocodingResult contains the result of a geocoding operation
type GeocodingResult struct {
	Coords      models.Coordinates `json:"coords"`
	DisplayName string             `json:"display_name"`
}

// Location converts the result into a models.Location labelled with its display name
func (r *GeocodingResult) Location() models.Location {
	return models.LocationAt(r.Coords, r.DisplayName)
}

// Geocoder provides address-to-coordinates conversion.
// Geocode returns (nil, nil) when the address is blank or nothing matches.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*GeocodingResult, error)
	Search(ctx context.Context, query string, limit int) ([]GeocodingResult, error)
	Reverse(ctx context.Context, coords models.Coordinates) (*GeocodingResult, error)
}

// ErrGeocodingFailed is returned when the geocoding service cannot be used
type ErrGeocodingFailed struct {
	Address string
	Reason  string
}

func (e *ErrGeocodingFailed) Error() string {
	return fmt.Sprintf("geocoding failed for address: %s - %s", e.Address, e.Reason)
}

// Options configures the Nominatim client
type Options struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration
	CacheTTL          time.Duration
}

type nominatimGeocoder struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	cache       cache.Cache
	cacheTTL    time.Duration
}

type nominatimResponse struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NewNominatimGeocoder creates a rate limited Nominatim geocoder. c may be nil.
func NewNominatimGeocoder(opts Options, c cache.Cache) Geocoder {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &nominatimGeocoder{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
		cache:       c,
		cacheTTL:    opts.CacheTTL,
	}
}

func (g *nominatimGeocoder) Geocode(ctx context.Context, address string) (*GeocodingResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}

	cacheKey := "geocode:" + strings.ToLower(address)
	if cached, ok := g.cached(ctx, cacheKey); ok {
		metrics.GeocodeLookups.WithLabelValues("cached").Inc()
		return cached, nil
	}

	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "json")
	params.Set("limit", "1")

	results, err := g.fetch(ctx, address, "/search", params)
	if err != nil {
		metrics.GeocodeLookups.WithLabelValues("error").Inc()
		return nil, err
	}

	if len(results) == 0 {
		zap.S().Infof("[GEOCODING] No results: address=%s", address)
		metrics.GeocodeLookups.WithLabelValues("miss").Inc()
		return nil, nil
	}

	result, err := parseResult(results[0])
	if err != nil {
		zap.S().Errorf("[ERROR] Invalid coordinates in geocoding response: address=%s err=%v", address, err)
		metrics.GeocodeLookups.WithLabelValues("error").Inc()
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error()}
	}

	zap.S().Infof("[GEOCODING] Response: address=%s lat=%.6f lng=%.6f display_name=%s", address, result.Coords.Lat, result.Coords.Lng, result.DisplayName)
	metrics.GeocodeLookups.WithLabelValues("hit").Inc()
	g.store(ctx, cacheKey, result)
	return result, nil
}

func (g *nominatimGeocoder) Search(ctx context.Context, query string, limit int) ([]GeocodingResult, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinSearchLength {
		return []GeocodingResult{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))

	results, err := g.fetch(ctx, query, "/search", params)
	if err != nil {
		return nil, err
	}

	zap.S().Infof("[GEOCODING] Search response: query=%s results_count=%d", query, len(results))

	geocodingResults := make([]GeocodingResult, 0, len(results))
	for _, r := range results {
		parsed, err := parseResult(r)
		if err != nil {
			zap.S().Warnf("[GEOCODING] Skipping search result: query=%s err=%v", query, err)
			continue
		}
		geocodingResults = append(geocodingResults, *parsed)
	}
	return geocodingResults, nil
}

func (g *nominatimGeocoder) Reverse(ctx context.Context, coords models.Coordinates) (*GeocodingResult, error) {
	label := fmt.Sprintf("%.6f,%.6f", coords.Lat, coords.Lng)
	cacheKey := "reverse:" + label
	if cached, ok := g.cached(ctx, cacheKey); ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coords.Lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(coords.Lng, 'f', 6, 64))
	params.Set("format", "json")

	body, err := g.get(ctx, label, "/reverse", params)
	if err != nil {
		return nil, err
	}

	var resp nominatimResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		zap.S().Errorf("[ERROR] Failed to decode reverse geocoding response: coords=%s err=%v", label, err)
		return nil, &ErrGeocodingFailed{Address: label, Reason: err.Error()}
	}
	if resp.DisplayName == "" {
		return nil, nil
	}

	result := &GeocodingResult{Coords: coords, DisplayName: resp.DisplayName}
	zap.S().Infof("[GEOCODING] Reverse response: coords=%s display_name=%s", label, resp.DisplayName)
	g.store(ctx, cacheKey, result)
	return result, nil
}

func (g *nominatimGeocoder) fetch(ctx context.Context, address, path string, params url.Values) ([]nominatimResponse, error) {
	body, err := g.get(ctx, address, path, params)
	if err != nil {
		return nil, err
	}

	var results []nominatimResponse
	if err := json.Unmarshal(body, &results); err != nil {
		zap.S().Errorf("[ERROR] Failed to decode geocoding response: address=%s err=%v", address, err)
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error()}
	}
	return results, nil
}

func (g *nominatimGeocoder) get(ctx context.Context, address, path string, params url.Values) ([]byte, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	queryURL := g.baseURL + path + "?" + params.Encode()
	zap.S().Infof("[GEOCODING] Request: address=%s url=%s", address, queryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		zap.S().Errorf("[ERROR] Failed to create geocoding request: address=%s err=%v", address, err)
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error()}
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		zap.S().Errorf("[ERROR] Geocoding API request failed: address=%s err=%v", address, err)
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		zap.S().Errorf("[ERROR] Geocoding API error: address=%s status=%d body=%s", address, resp.StatusCode, string(body))
		return nil, &ErrGeocodingFailed{
			Address: address,
			Reason:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}
	return body, nil
}

func (g *nominatimGeocoder) cached(ctx context.Context, key string) (*GeocodingResult, bool) {
	if g.cache == nil {
		return nil, false
	}
	var result GeocodingResult
	ok, err := cache.GetJSON(ctx, g.cache, key, &result)
	if err != nil {
		zap.S().Warnf("[GEOCODING] Cache read failed: key=%s err=%v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &result, true
}

func (g *nominatimGeocoder) store(ctx context.Context, key string, result *GeocodingResult) {
	if g.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, g.cache, key, result, g.cacheTTL); err != nil {
		zap.S().Warnf("[GEOCODING] Cache write failed: key=%s err=%v", key, err)
	}
}

func parseResult(r nominatimResponse) (*GeocodingResult, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q", r.Lat)
	}
	lng, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q", r.Lon)
	}
	return &GeocodingResult{
		Coords:      models.Coordinates{Lat: lat, Lng: lng},
		DisplayName: r.DisplayName,
	}, nil
}
