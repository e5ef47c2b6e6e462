package routing

import (
	"fmt"
	"strings"

	"saferoute/internal/models"
)

// Directions formats one line per maneuver as "<instruction> for <km> km"
func Directions(steps []models.RouteStep) []string {
	directions := make([]string, 0, len(steps))
	for _, s := range steps {
		directions = append(directions, fmt.Sprintf("%s for %.1f km", s.Instruction, s.DistanceMeters/1000))
	}
	return directions
}

func instructionFor(s osrmStep) string {
	road := s.Name
	if road == "" {
		road = s.Ref
	}
	m := s.Maneuver

	switch m.Type {
	case "depart":
		if road == "" {
			return "Head " + compass(m.BearingAfter)
		}
		return fmt.Sprintf("Head %s on %s", compass(m.BearingAfter), road)
	case "arrive":
		switch m.Modifier {
		case "left", "right":
			return fmt.Sprintf("You have arrived at your destination, on the %s", m.Modifier)
		}
		return "You have arrived at your destination"
	case "roundabout", "rotary":
		if m.Exit > 0 {
			return onto(fmt.Sprintf("Enter the roundabout and take the %s exit", ordinal(m.Exit)), road)
		}
		return onto("Enter the roundabout", road)
	case "exit roundabout", "exit rotary":
		return onto("Exit the roundabout", road)
	case "new name":
		return onto("Continue", road)
	case "continue":
		if m.Modifier == "uturn" {
			return onto("Make a U-turn", road)
		}
		return onto("Continue "+modifierText(m.Modifier, "straight"), road)
	case "merge":
		return onto("Merge "+modifierText(m.Modifier, ""), road)
	case "on ramp":
		return onto("Take the ramp "+sideText(m.Modifier), road)
	case "off ramp":
		return onto("Take the exit "+sideText(m.Modifier), road)
	case "fork":
		return onto("Keep "+modifierText(m.Modifier, "straight")+" at the fork", road)
	case "end of road":
		return onto(fmt.Sprintf("Turn %s at the end of the road", modifierText(m.Modifier, "")), road)
	case "turn", "":
		if m.Modifier == "straight" {
			return onto("Go straight", road)
		}
		if m.Modifier == "uturn" {
			return onto("Make a U-turn", road)
		}
		return onto("Turn "+modifierText(m.Modifier, ""), road)
	default:
		return onto(capitalize(strings.TrimSpace(m.Type+" "+m.Modifier)), road)
	}
}

func onto(instruction, road string) string {
	instruction = strings.Join(strings.Fields(instruction), " ")
	if road == "" {
		return instruction
	}
	return instruction + " onto " + road
}

func modifierText(modifier, def string) string {
	if modifier == "" {
		return def
	}
	return modifier
}

func sideText(modifier string) string {
	switch {
	case strings.Contains(modifier, "left"):
		return "on the left"
	case strings.Contains(modifier, "right"):
		return "on the right"
	}
	return ""
}

var compassPoints = []string{"north", "northeast", "east", "southeast", "south", "southwest", "west", "northwest"}

func compass(bearing float64) string {
	idx := int((bearing+22.5)/45) % len(compassPoints)
	if idx < 0 {
		idx += len(compassPoints)
	}
	return compassPoints[idx]
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
