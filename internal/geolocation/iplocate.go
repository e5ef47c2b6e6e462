package geolocation

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"saferoute/internal/models"
)

// ApproximateAccuracyMeters is the accuracy reported for IP-derived fixes
const ApproximateAccuracyMeters = 5000

// ErrLocateFailed is returned when no position could be determined
type ErrLocateFailed struct {
	Source models.FixSource
	Reason string
}

func (e *ErrLocateFailed) Error() string {
	return fmt.Sprintf("location lookup failed (%s): %s", e.Source, e.Reason)
}

// IPLocator resolves an IP address to a coarse coordinate
type IPLocator interface {
	Locate(ctx context.Context, ip string) (models.Fix, error)
}

type ipLocator struct {
	baseURL    string
	httpClient *http.Client
}

// NewIPLocator creates a locator for services answering GET {base}/{ip}/latlong/
// with a plain "lat,lon" body
func NewIPLocator(baseURL string, timeout time.Duration) IPLocator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ipLocator{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (l *ipLocator) Locate(ctx context.Context, ip string) (models.Fix, error) {
	queryURL := l.baseURL + "/latlong/"
	if ip != "" && !isLocalIP(ip) {
		queryURL = l.baseURL + "/" + ip + "/latlong/"
	}
	zap.S().Infof("[GEOLOCATION] IP lookup: ip=%s url=%s", ip, queryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return models.Fix{}, &ErrLocateFailed{Source: models.FixSourceIP, Reason: err.Error()}
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		zap.S().Errorf("[ERROR] IP location request failed: ip=%s err=%v", ip, err)
		return models.Fix{}, &ErrLocateFailed{Source: models.FixSourceIP, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return models.Fix{}, &ErrLocateFailed{Source: models.FixSourceIP, Reason: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		zap.S().Errorf("[ERROR] IP location API error: ip=%s status=%d body=%s", ip, resp.StatusCode, string(body))
		return models.Fix{}, &ErrLocateFailed{
			Source: models.FixSourceIP,
			Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	coords, err := parseLatLong(string(body))
	if err != nil {
		zap.S().Errorf("[ERROR] Invalid IP location response: ip=%s body=%q err=%v", ip, string(body), err)
		return models.Fix{}, &ErrLocateFailed{Source: models.FixSourceIP, Reason: err.Error()}
	}

	zap.S().Infof("[GEOLOCATION] IP fix: ip=%s lat=%.4f lng=%.4f", ip, coords.Lat, coords.Lng)
	return models.Fix{
		Coords:         coords,
		AccuracyMeters: ApproximateAccuracyMeters,
		Timestamp:      time.Now(),
		Approximate:    true,
		Source:         models.FixSourceIP,
	}, nil
}

func parseLatLong(s string) (models.Coordinates, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return models.Coordinates{}, fmt.Errorf("expected \"lat,lon\", got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("invalid longitude: %w", err)
	}
	c := models.Coordinates{Lat: lat, Lng: lng}
	if err := ValidateCoordinates(c); err != nil {
		return models.Coordinates{}, err
	}
	return c, nil
}

// ValidateCoordinates checks latitude and longitude ranges
func ValidateCoordinates(c models.Coordinates) error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %f out of range", c.Lng)
	}
	return nil
}

// isLocalIP reports addresses the upstream cannot resolve; those fall back
// to the service's own view of the caller
func isLocalIP(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified()
}
