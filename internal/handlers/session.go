package handlers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"saferoute/internal/geolocation"
	"saferoute/internal/mapview"
	"saferoute/internal/models"
)

// Session is one user's live map: the scene, the view driving it, and the
// tracker feeding it positions
type Session struct {
	UserID  string
	Scene   *mapview.Scene
	View    *mapview.View
	Tracker *geolocation.Tracker
	Source  *geolocation.ReportedSource

	mu         sync.Mutex
	completion *mapview.CompletionSignal
	lastSeen   time.Time
}

// Controller returns the route controller shared by the map and search panels
func (s *Session) Controller() mapview.RouteController {
	return s.View
}

// Completion returns and clears the pending feedback prompt
func (s *Session) Completion() (mapview.CompletionSignal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completion == nil {
		return mapview.CompletionSignal{}, false
	}
	c := *s.completion
	s.completion = nil
	return c, true
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) close() {
	s.View.Close()
	s.Tracker.Stop()
}

// SessionConfig holds what every new session is built from
type SessionConfig struct {
	Geocoder   mapview.Geocoder
	Engine     mapview.RouteEngine
	IPLocator  geolocation.IPLocator
	Zones      []models.SafetyZone
	Center     models.Coordinates
	Zoom       int
	FixTimeout time.Duration
}

// SessionStore keeps one map session per user in memory
type SessionStore struct {
	cfg      SessionConfig
	sessions map[string]*Session
	mu       sync.Mutex
}

// NewSessionStore creates an empty store
func NewSessionStore(cfg SessionConfig) *SessionStore {
	if cfg.Zoom == 0 {
		cfg.Zoom = 13
	}
	return &SessionStore{cfg: cfg, sessions: make(map[string]*Session)}
}

// Get returns the user's session, creating and loading it on first use
func (s *SessionStore) Get(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		sess.touch()
		return sess
	}

	scene := mapview.NewScene(s.cfg.Center, s.cfg.Zoom)
	source := geolocation.NewReportedSource()
	tracker := geolocation.NewTracker(source, s.cfg.IPLocator, scene, geolocation.TrackerOptions{FixTimeout: s.cfg.FixTimeout})

	sess := &Session{UserID: userID, Scene: scene, Tracker: tracker, Source: source, lastSeen: time.Now()}
	sess.View = mapview.NewView(scene, s.cfg.Geocoder, tracker, s.cfg.Engine, mapview.Options{
		Zones: s.cfg.Zones,
		OnComplete: func(c mapview.CompletionSignal) {
			sess.mu.Lock()
			sess.completion = &c
			sess.mu.Unlock()
		},
	})
	if err := sess.View.Load(); err != nil {
		zap.S().Warnf("[SESSION] Map load failed: user=%s err=%v", userID, err)
	}

	s.sessions[userID] = sess
	zap.S().Infof("[SESSION] Created map session: user=%s", userID)
	return sess
}

// Peek returns the session without creating one
func (s *SessionStore) Peek(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Delete stops and removes the user's session
func (s *SessionStore) Delete(userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()

	if ok {
		sess.close()
		zap.S().Infof("[SESSION] Deleted map session: user=%s", userID)
	}
}

// Expire removes sessions idle for longer than maxIdle and returns how many
func (s *SessionStore) Expire(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	var stale []*Session
	for id, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.close()
	}
	if len(stale) > 0 {
		zap.S().Infof("[SESSION] Expired idle sessions: count=%d", len(stale))
	}
	return len(stale)
}

// RunJanitor expires idle sessions every interval until ctx is done
func (s *SessionStore) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Expire(maxIdle)
		}
	}
}

// Close stops every session
func (s *SessionStore) Close() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.close()
	}
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
