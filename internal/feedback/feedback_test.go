package feedback

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saferoute/internal/database"
	"saferoute/internal/models"
	"saferoute/internal/sqlite"
)

type countingRepo struct {
	database.ReportRepository
	creates atomic.Int32
}

func (r *countingRepo) Create(ctx context.Context, rep *models.SafetyReport) (*models.SafetyReport, error) {
	r.creates.Add(1)
	return r.ReportRepository.Create(ctx, rep)
}

func setup(t *testing.T) (*Service, *countingRepo) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := &countingRepo{ReportRepository: store.Reports()}
	return NewService(repo), repo
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a valid report", func(t *testing.T) {
		svc, repo := setup(t)

		saved, err := svc.Submit(ctx, "u1", models.SafetyReport{
			Location:     " Central Station ",
			Destination:  "Home",
			Rating:       2,
			IncidentType: models.IncidentPoorLighting,
			Description:  "Street lights out near the underpass",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)
		assert.Equal(t, "Central Station", saved.Location)
		assert.EqualValues(t, 1, repo.creates.Load())

		list, err := svc.List(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, models.IncidentPoorLighting, list[0].IncidentType)
	})

	tests := []struct {
		name   string
		report models.SafetyReport
	}{
		{"missing location", models.SafetyReport{Rating: 3}},
		{"missing rating", models.SafetyReport{Location: "Park"}},
		{"rating out of range", models.SafetyReport{Location: "Park", Rating: 6}},
		{"unknown incident", models.SafetyReport{Location: "Park", Rating: 3, IncidentType: "alien"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := setup(t)
			_, err := svc.Submit(ctx, "u1", tt.report)
			assert.ErrorIs(t, err, ErrInvalidReport)
			assert.EqualValues(t, 0, repo.creates.Load())
		})
	}
}
