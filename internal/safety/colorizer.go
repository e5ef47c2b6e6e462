package safety

import (
	"saferoute/internal/models"
)

// Colors maps each risk level to its overlay colour
var Colors = map[models.RiskLevel]string{
	models.HighRisk:   "#ea384c",
	models.MediumRisk: "#f0ad4e",
	models.Safe:       "#2ecc71",
}

// RouteColor is the single-colour line drawn before a route is classified
const RouteColor = "#8B5CF6"

// Color returns the overlay colour for level
func Color(level models.RiskLevel) string {
	if c, ok := Colors[level]; ok {
		return c
	}
	return RouteColor
}

// splitOrder is the level assigned to each third of the route, in order
var splitOrder = []models.RiskLevel{models.Safe, models.MediumRisk, models.HighRisk}

// Split cuts points into three contiguous groups sized n/3, n/3 and the
// remainder, tagged with a placeholder risk level. Groups that would be empty
// are omitted, so fewer than three points yield fewer segments.
func Split(points []models.Coordinates) []models.RouteSegment {
	n := len(points)
	if n == 0 {
		return nil
	}

	third := n / 3
	bounds := []int{0, third, 2 * third, n}

	segments := make([]models.RouteSegment, 0, 3)
	for i, level := range splitOrder {
		group := points[bounds[i]:bounds[i+1]]
		if len(group) == 0 {
			continue
		}
		pts := append([]models.Coordinates(nil), group...)
		segments = append(segments, models.RouteSegment{
			Start:          models.LocationAt(pts[0], ""),
			End:            models.LocationAt(pts[len(pts)-1], ""),
			Level:          level,
			DistanceMeters: models.PathLength(pts),
			Points:         pts,
		})
	}
	return segments
}
