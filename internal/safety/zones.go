package safety

import (
	"saferoute/internal/models"
)

// ZonesAt returns the zones whose circle contains c
func ZonesAt(zones []models.SafetyZone, c models.Coordinates) []models.SafetyZone {
	var hits []models.SafetyZone
	for _, z := range zones {
		if models.DistanceMeters(z.Center, c) <= z.RadiusMeters {
			hits = append(hits, z)
		}
	}
	return hits
}

// LevelAt returns the most severe level among the zones containing c,
// or Safe when none do
func LevelAt(zones []models.SafetyZone, c models.Coordinates) models.RiskLevel {
	level := models.Safe
	for _, z := range ZonesAt(zones, c) {
		if severity(z.Level) > severity(level) {
			level = z.Level
		}
	}
	return level
}

func severity(l models.RiskLevel) int {
	switch l {
	case models.HighRisk:
		return 2
	case models.MediumRisk:
		return 1
	}
	return 0
}
