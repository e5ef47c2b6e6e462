package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saferoute/internal/cache"
	"saferoute/internal/models"
	"saferoute/internal/notify"
	"saferoute/internal/testutil"
)

var user = &models.User{ID: "u1", Email: "priya@example.com", Name: "Priya"}

func threeContacts() []models.EmergencyContact {
	return []models.EmergencyContact{
		{ID: "1", Name: "Mom", Phone: "1", Email: "mom@example.com"},
		{ID: "2", Name: "Dad", Phone: "2", Email: "dad@example.com"},
		{ID: "3", Name: "Sam", Phone: "3", Email: "sam@example.com"},
	}
}

func TestTriggerCountsPartialFailures(t *testing.T) {
	mailer := testutil.NewMockMailer()
	mailer.FailFor["sam@example.com"] = errors.New("mailbox unavailable")

	d := notify.NewDispatcher(mailer, nil, nil, notify.DispatcherOptions{MaxConcurrency: 2})

	res, err := d.Trigger(context.Background(), user, threeContacts(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Sam")

	sent := mailer.Messages()
	require.Len(t, sent, 2)
	for _, m := range sent {
		assert.Equal(t, "URGENT: Priya needs your help!", m.Subject)
		assert.Contains(t, m.HTML, "Location information is not available.")
	}
}

func TestTriggerCountsContactsWithoutEmailAsFailed(t *testing.T) {
	mailer := testutil.NewMockMailer()
	d := notify.NewDispatcher(mailer, nil, nil, notify.DispatcherOptions{})

	contacts := threeContacts()
	contacts[1].Email = ""

	res, err := d.Trigger(context.Background(), user, contacts, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
}

func TestTriggerIncludesLocation(t *testing.T) {
	mailer := testutil.NewMockMailer()
	geo := testutil.NewMockGeocoder()
	pos := models.Coordinates{Lat: 28.6139, Lng: 77.209}
	geo.Set("Connaught Place, New Delhi", pos)

	d := notify.NewDispatcher(mailer, geo, nil, notify.DispatcherOptions{})

	res, err := d.Trigger(context.Background(), user, threeContacts()[:1], &pos)
	require.NoError(t, err)
	assert.Equal(t, "connaught place, new delhi", res.LocationName)
	assert.Equal(t, "https://www.google.com/maps?q=28.613900,77.209000", res.LocationLink)

	sent := mailer.Messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].HTML, "View on Google Maps")
}

func TestTriggerCooldown(t *testing.T) {
	mailer := testutil.NewMockMailer()
	c := cache.NewLocal(time.Minute, time.Minute)
	d := notify.NewDispatcher(mailer, nil, c, notify.DispatcherOptions{Cooldown: 30 * time.Second})

	_, err := d.Trigger(context.Background(), user, threeContacts(), nil)
	require.NoError(t, err)

	_, err = d.Trigger(context.Background(), user, threeContacts(), nil)
	assert.ErrorIs(t, err, notify.ErrCooldown)
	assert.Len(t, mailer.Messages(), 3)

	other := &models.User{ID: "u2", Email: "x@example.com"}
	_, err = d.Trigger(context.Background(), other, threeContacts(), nil)
	assert.NoError(t, err)
}

func TestTriggerWithoutContacts(t *testing.T) {
	d := notify.NewDispatcher(testutil.NewMockMailer(), nil, nil, notify.DispatcherOptions{})
	_, err := d.Trigger(context.Background(), user, nil, nil)
	assert.ErrorIs(t, err, notify.ErrNoContacts)
}

func TestSendRequiresEmail(t *testing.T) {
	mailer := testutil.NewMockMailer()
	d := notify.NewDispatcher(mailer, nil, nil, notify.DispatcherOptions{})

	_, err := d.Send(context.Background(), notify.Alert{UserName: "Priya"})
	assert.ErrorIs(t, err, notify.ErrEmailRequired)
	assert.Empty(t, mailer.Messages())
}

func TestSendRejectsLineBreaksInAlert(t *testing.T) {
	mailer := testutil.NewMockMailer()
	d := notify.NewDispatcher(mailer, nil, nil, notify.DispatcherOptions{})

	tests := []struct {
		name  string
		alert notify.Alert
	}{
		{"user name", notify.Alert{UserName: "Eve\r\nBcc: victim@example.com", ContactEmail: "mom@example.com"}},
		{"contact email", notify.Alert{UserName: "Eve", ContactEmail: "mom@example.com\r\nBcc: victim@example.com"}},
		{"location name", notify.Alert{ContactEmail: "mom@example.com", LocationName: "MG Road\n\nfake body"}},
		{"display name address", notify.Alert{ContactEmail: "Mom <mom@example.com>"}},
		{"not an address", notify.Alert{ContactEmail: "mom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Send(context.Background(), tt.alert)
			assert.ErrorIs(t, err, notify.ErrInvalidAlert)
		})
	}
	assert.Empty(t, mailer.Messages())
}
