package geolocation

import (
	"context"
	"sync"
	"time"

	"saferoute/internal/models"
)

// PositionSource supplies device positions the way a platform geolocation
// API does: one-shot requests plus a continuous watch
type PositionSource interface {
	// Next returns the first fix taken after the given time, waiting until ctx is done
	Next(ctx context.Context, after time.Time) (models.Fix, error)
	// Subscribe delivers every new fix; the returned func unsubscribes
	Subscribe() (<-chan models.Fix, func())
}

// ReportedSource is a PositionSource fed by fixes the client pushes
type ReportedSource struct {
	mu      sync.Mutex
	last    models.Fix
	hasLast bool
	subs    map[int]chan models.Fix
	nextSub int
}

// NewReportedSource creates an empty source
func NewReportedSource() *ReportedSource {
	return &ReportedSource{subs: make(map[int]chan models.Fix)}
}

// Report records a device fix and fans it out to subscribers
func (s *ReportedSource) Report(fix models.Fix) error {
	if err := ValidateCoordinates(fix.Coords); err != nil {
		return err
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}
	if fix.Source == "" {
		fix.Source = models.FixSourceDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = fix
	s.hasLast = true
	for _, ch := range s.subs {
		deliverLatest(ch, fix)
	}
	return nil
}

func (s *ReportedSource) Next(ctx context.Context, after time.Time) (models.Fix, error) {
	ch, cancel := s.Subscribe()
	defer cancel()

	s.mu.Lock()
	if s.hasLast && s.last.Timestamp.After(after) {
		fix := s.last
		s.mu.Unlock()
		return fix, nil
	}
	s.mu.Unlock()

	for {
		select {
		case fix := <-ch:
			if fix.Timestamp.After(after) {
				return fix, nil
			}
		case <-ctx.Done():
			return models.Fix{}, &ErrLocateFailed{Source: models.FixSourceDevice, Reason: ctx.Err().Error()}
		}
	}
}

func (s *ReportedSource) Subscribe() (<-chan models.Fix, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan models.Fix, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// deliverLatest replaces any undelivered fix so slow readers only see the newest
func deliverLatest(ch chan models.Fix, fix models.Fix) {
	select {
	case ch <- fix:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- fix:
	default:
	}
}
