package models

import (
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Coordinates represents a geographic point
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether both components are zero
func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// Location is a coordinate with an optional human-readable address
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Coords returns the location as Coordinates
func (l Location) Coords() Coordinates {
	return Coordinates{Lat: l.Latitude, Lng: l.Longitude}
}

// LocationAt builds a Location from coordinates
func LocationAt(c Coordinates, address string) Location {
	return Location{Latitude: c.Lat, Longitude: c.Lng, Address: address}
}

// User is the read-only projection of the authenticated account
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// DisplayName returns the name, falling back to the e-mail address
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}

// EmergencyContact is a person notified when the user triggers an SOS
type EmergencyContact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Relation  string    `json:"relation,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RiskLevel is the coarse three-way safety classification
type RiskLevel string

const (
	HighRisk   RiskLevel = "HIGH_RISK"
	MediumRisk RiskLevel = "MEDIUM_RISK"
	Safe       RiskLevel = "SAFE"
)

// Valid reports whether r is one of the known levels
func (r RiskLevel) Valid() bool {
	switch r {
	case HighRisk, MediumRisk, Safe:
		return true
	}
	return false
}

// SafetyZone is a static circular overlay tagged with a risk level
type SafetyZone struct {
	Center       Coordinates `json:"center" yaml:"center"`
	RadiusMeters float64     `json:"radius_meters" yaml:"radius_meters"`
	Level        RiskLevel   `json:"level" yaml:"level"`
}

// RouteStep is a single maneuver of a calculated route
type RouteStep struct {
	Instruction    string  `json:"instruction"`
	DistanceMeters float64 `json:"distance_meters"`
	DurationSecs   float64 `json:"duration_secs"`
}

// RouteSource identifies which routing path produced a route
type RouteSource string

const (
	RouteSourcePrimary  RouteSource = "primary"
	RouteSourceFallback RouteSource = "fallback"
)

// Route is a calculated path between two locations
type Route struct {
	Start          Location      `json:"start"`
	End            Location      `json:"end"`
	Geometry       []Coordinates `json:"geometry"`
	Steps          []RouteStep   `json:"steps"`
	Directions     []string      `json:"directions"`
	DistanceMeters float64       `json:"distance_meters"`
	DurationSecs   float64       `json:"duration_secs"`
	Source         RouteSource   `json:"source"`
}

// RouteSegment is a contiguous slice of a route carrying a risk level
type RouteSegment struct {
	Start          Location      `json:"start"`
	End            Location      `json:"end"`
	Level          RiskLevel     `json:"level"`
	DistanceMeters float64       `json:"distance_meters"`
	Points         []Coordinates `json:"points"`
}

// FixSource identifies where a position fix came from
type FixSource string

const (
	FixSourceDevice FixSource = "device"
	FixSourceIP     FixSource = "ip"
)

// Fix is a single position reading
type Fix struct {
	Coords         Coordinates `json:"coords"`
	AccuracyMeters float64     `json:"accuracy_meters"`
	Timestamp      time.Time   `json:"timestamp"`
	Approximate    bool        `json:"approximate"`
	Source         FixSource   `json:"source"`
}

// IncidentType classifies a safety report
type IncidentType string

const (
	IncidentHarassment         IncidentType = "harassment"
	IncidentPoorLighting       IncidentType = "poor_lighting"
	IncidentSuspiciousActivity IncidentType = "suspicious_activity"
	IncidentVerbalAbuse        IncidentType = "verbal_abuse"
	IncidentOther              IncidentType = "other"
)

// IncidentTypes lists the accepted incident types in display order
var IncidentTypes = []IncidentType{
	IncidentHarassment,
	IncidentPoorLighting,
	IncidentSuspiciousActivity,
	IncidentVerbalAbuse,
	IncidentOther,
}

// Label returns the display label of the incident type
func (t IncidentType) Label() string {
	switch t {
	case IncidentHarassment:
		return "Harassment"
	case IncidentPoorLighting:
		return "Poor Lighting"
	case IncidentSuspiciousActivity:
		return "Suspicious Activity"
	case IncidentVerbalAbuse:
		return "Verbal Abuse"
	case IncidentOther:
		return "Other"
	}
	return string(t)
}

// Valid reports whether t is empty or one of IncidentTypes
func (t IncidentType) Valid() bool {
	if t == "" {
		return true
	}
	for _, known := range IncidentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SafetyReport is post-trip feedback about how safe a journey felt
type SafetyReport struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Location     string       `json:"location"`
	Destination  string       `json:"destination,omitempty"`
	Rating       int          `json:"rating"`
	IncidentType IncidentType `json:"incident_type,omitempty"`
	Description  string       `json:"description,omitempty"`
	Latitude     float64      `json:"latitude,omitempty"`
	Longitude    float64      `json:"longitude,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// SOSResult aggregates the outcome of an SOS fan-out
type SOSResult struct {
	Total        int      `json:"total"`
	Sent         int      `json:"sent"`
	Failed       int      `json:"failed"`
	LocationName string   `json:"location_name,omitempty"`
	LocationLink string   `json:"location_link,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Point returns c as an orb point; orb orders positions [lng, lat]
func (c Coordinates) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// LineString converts a coordinate path to an orb line string
func LineString(points []Coordinates) orb.LineString {
	ls := make(orb.LineString, 0, len(points))
	for _, p := range points {
		ls = append(ls, p.Point())
	}
	return ls
}

// DistanceMeters returns the great-circle distance between two points
func DistanceMeters(a, b Coordinates) float64 {
	return geo.Distance(a.Point(), b.Point())
}

// PathLength sums the distances along points
func PathLength(points []Coordinates) float64 {
	return geo.Length(LineString(points))
}
