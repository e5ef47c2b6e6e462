package routing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"saferoute/internal/metrics"
	"saferoute/internal/models"
)

// Engine routes through the primary router and falls back to a routing
// control exactly once when the primary fails
type Engine struct {
	primary    Router
	newControl ControlFactory
}

// NewEngine creates an engine. newControl may be nil to disable the fallback.
func NewEngine(primary Router, newControl ControlFactory) *Engine {
	return &Engine{primary: primary, newControl: newControl}
}

// Route returns a route from start to end with directions filled in
func (e *Engine) Route(ctx context.Context, start, end models.Coordinates) (*models.Route, error) {
	route, err := e.primary.Route(ctx, start, end)
	if err == nil {
		metrics.RouteCalculations.WithLabelValues(string(models.RouteSourcePrimary)).Inc()
		return route, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	zap.S().Warnf("[OSRM] Primary routing failed, using routing control: err=%v", err)

	if e.newControl == nil {
		metrics.RouteCalculations.WithLabelValues("failed").Inc()
		return nil, err
	}

	var (
		found    *models.Route
		fallback error
	)
	control := e.newControl()
	control.On(EventRoutesFound, func(ev Event) {
		if len(ev.Routes) > 0 {
			found = ev.Routes[0]
		}
	})
	control.On(EventRoutingError, func(ev Event) {
		fallback = ev.Err
	})
	control.SetWaypoints(ctx, start, end)

	if found == nil {
		if fallback == nil {
			fallback = fmt.Errorf("no route found")
		}
		metrics.RouteCalculations.WithLabelValues("failed").Inc()
		return nil, &ErrRoutingFailed{Reason: fmt.Sprintf("primary: %v; fallback: %v", err, fallback)}
	}

	metrics.RouteCalculations.WithLabelValues(string(models.RouteSourceFallback)).Inc()
	return found, nil
}
