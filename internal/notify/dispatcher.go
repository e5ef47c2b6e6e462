package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"saferoute/internal/cache"
	"saferoute/internal/geocoding"
	"saferoute/internal/metrics"
	"saferoute/internal/models"
)

// ErrCooldown is returned when the user triggered an SOS too recently
var ErrCooldown = errors.New("an SOS was sent recently, please wait before sending again")

// ErrEmailRequired is returned when an alert has no recipient
var ErrEmailRequired = errors.New("Contact email is required")

// ErrNoContacts is returned when the user has no one to notify
var ErrNoContacts = errors.New("no emergency contacts to notify")

// ReverseGeocoder turns a position into a place name
type ReverseGeocoder interface {
	Reverse(ctx context.Context, coords models.Coordinates) (*geocoding.GeocodingResult, error)
}

// DispatcherOptions tunes the SOS fan-out
type DispatcherOptions struct {
	From           string
	Cooldown       time.Duration
	MaxConcurrency int
}

// Dispatcher fans an SOS alert out to every contact, one message each
type Dispatcher struct {
	mailer   Mailer
	geocoder ReverseGeocoder
	cache    cache.Cache
	from     string
	cooldown time.Duration
	limit    int
}

func NewDispatcher(mailer Mailer, geocoder ReverseGeocoder, c cache.Cache, opts DispatcherOptions) *Dispatcher {
	if opts.From == "" {
		opts.From = "SafeRoute SOS <sos@saferoute.local>"
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	return &Dispatcher{
		mailer:   mailer,
		geocoder: geocoder,
		cache:    c,
		from:     opts.From,
		cooldown: opts.Cooldown,
		limit:    opts.MaxConcurrency,
	}
}

// Trigger sends one alert per contact. Partial failures are counted and
// never retried. position may be nil when no fix is known.
func (d *Dispatcher) Trigger(ctx context.Context, user *models.User, contacts []models.EmergencyContact, position *models.Coordinates) (*models.SOSResult, error) {
	if len(contacts) == 0 {
		return nil, ErrNoContacts
	}
	if err := d.acquire(ctx, user.ID); err != nil {
		return nil, err
	}

	result := &models.SOSResult{Total: len(contacts)}
	if position != nil {
		result.LocationLink = MapsLink(position.Lat, position.Lng)
		result.LocationName = d.placeName(ctx, *position)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.limit)

	for _, contact := range contacts {
		contact := contact
		g.Go(func() error {
			err := d.sendOne(ctx, user, contact, result.LocationLink, result.LocationName)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", contact.Name, err))
				metrics.SOSEmails.WithLabelValues("failed").Inc()
				return nil
			}
			result.Sent++
			metrics.SOSEmails.WithLabelValues("sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	zap.S().Infof("[SOS] Alert dispatched: user=%s sent=%d failed=%d total=%d", user.ID, result.Sent, result.Failed, result.Total)
	return result, nil
}

// Send delivers a single alert
func (d *Dispatcher) Send(ctx context.Context, alert Alert) (string, error) {
	if strings.TrimSpace(alert.ContactEmail) == "" {
		return "", ErrEmailRequired
	}
	if err := alert.Validate(); err != nil {
		return "", err
	}
	msg, err := alert.Message(d.from)
	if err != nil {
		return "", err
	}
	return d.mailer.Send(ctx, msg)
}

func (d *Dispatcher) sendOne(ctx context.Context, user *models.User, contact models.EmergencyContact, link, name string) error {
	if contact.Email == "" {
		return errors.New("contact has no email address")
	}
	_, err := d.Send(ctx, Alert{
		UserName:     user.DisplayName(),
		ContactName:  contact.Name,
		ContactEmail: contact.Email,
		LocationLink: link,
		LocationName: name,
	})
	return err
}

// acquire claims the per-user cooldown slot
func (d *Dispatcher) acquire(ctx context.Context, userID string) error {
	if d.cache == nil || d.cooldown <= 0 {
		return nil
	}
	ok, err := d.cache.SetNX(ctx, "sos:"+userID, []byte(time.Now().UTC().Format(time.RFC3339)), d.cooldown)
	if err != nil {
		zap.S().Warnf("[SOS] Cooldown check failed, sending anyway: user=%s err=%v", userID, err)
		return nil
	}
	if !ok {
		return ErrCooldown
	}
	return nil
}

func (d *Dispatcher) placeName(ctx context.Context, position models.Coordinates) string {
	if d.geocoder == nil {
		return ""
	}
	res, err := d.geocoder.Reverse(ctx, position)
	if err != nil {
		zap.S().Warnf("[SOS] Reverse geocoding failed: lat=%.6f lng=%.6f err=%v", position.Lat, position.Lng, err)
		return ""
	}
	if res == nil {
		return ""
	}
	return res.DisplayName
}
