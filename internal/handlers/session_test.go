package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"saferoute/internal/mapview"
	"saferoute/internal/testutil"
)

func newTestSessionStore() *SessionStore {
	return NewSessionStore(SessionConfig{
		Geocoder:   testutil.NewMockGeocoder(),
		Engine:     testutil.NewMockRouteEngine(4),
		FixTimeout: 10 * time.Millisecond,
	})
}

func TestSessionStoreGetIsPerUser(t *testing.T) {
	store := newTestSessionStore()
	defer store.Close()

	a := store.Get("alice")
	assert.Same(t, a, store.Get("alice"))
	assert.NotSame(t, a, store.Get("bob"))
	assert.Equal(t, 2, store.Len())

	assert.Equal(t, mapview.StateLoaded, a.View.State())
	assert.Equal(t, mapview.RouteController(a.View), a.Controller())
}

func TestSessionStoreExpire(t *testing.T) {
	store := newTestSessionStore()
	defer store.Close()

	store.Get("alice")
	time.Sleep(20 * time.Millisecond)
	store.Get("bob")

	assert.Equal(t, 1, store.Expire(10*time.Millisecond))
	_, ok := store.Peek("alice")
	assert.False(t, ok)
	_, ok = store.Peek("bob")
	assert.True(t, ok)
}

func TestSessionStoreDelete(t *testing.T) {
	store := newTestSessionStore()
	defer store.Close()

	store.Get("alice")
	store.Delete("alice")
	store.Delete("alice")
	assert.Equal(t, 0, store.Len())
}
