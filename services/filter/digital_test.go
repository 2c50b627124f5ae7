package filter

import (
	"testing"
	"time"

	"streamforge/models"
)

func TestDigitalReleaseDecision(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	date := func(s string) time.Time {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			t.Fatalf("bad date %q", s)
		}
		return d
	}
	ptr := func(d time.Time) *time.Time { return &d }

	tests := []struct {
		name    string
		req     Request
		allowed bool
	}{
		{
			name:    "series without episode details",
			req:     Request{MediaType: models.MediaTypeSeries},
			allowed: true,
		},
		{
			name: "series episode not yet aired",
			req: Request{
				MediaType:      models.MediaTypeSeries,
				EpisodeDetails: &models.EpisodeDetails{AirDate: "2026-09-15"},
			},
			allowed: false,
		},
		{
			name: "series episode airing within tolerance",
			req: Request{
				MediaType:      models.MediaTypeSeries,
				EpisodeDetails: &models.EpisodeDetails{AirDate: "2026-08-25"},
			},
			allowed: true,
		},
		{
			name: "series episode already aired",
			req: Request{
				MediaType:      models.MediaTypeSeries,
				EpisodeDetails: &models.EpisodeDetails{AirDate: "2024-01-01"},
			},
			allowed: true,
		},
		{
			name: "movie theatrical in the future",
			req: Request{
				MediaType:    models.MediaTypeMovie,
				ReleaseDates: &models.ReleaseDates{Theatrical: ptr(date("2026-12-18"))},
			},
			allowed: false,
		},
		{
			name: "movie released over a year ago",
			req: Request{
				MediaType:    models.MediaTypeMovie,
				ReleaseDates: &models.ReleaseDates{Theatrical: ptr(date("2024-06-01"))},
			},
			allowed: true,
		},
		{
			name: "movie with no digital release dates",
			req: Request{
				MediaType:    models.MediaTypeMovie,
				ReleaseDates: &models.ReleaseDates{Theatrical: ptr(date("2026-06-01"))},
			},
			allowed: true,
		},
		{
			name:    "movie with no release calendar at all",
			req:     Request{MediaType: models.MediaTypeMovie},
			allowed: true,
		},
		{
			name: "movie digital release already out",
			req: Request{
				MediaType: models.MediaTypeMovie,
				ReleaseDates: &models.ReleaseDates{
					Theatrical: ptr(date("2026-06-01")),
					Windows:    []models.ReleaseWindow{{Kind: "digital", Date: date("2026-08-01")}},
				},
			},
			allowed: true,
		},
		{
			name: "movie digital release imminent",
			req: Request{
				MediaType: models.MediaTypeMovie,
				ReleaseDates: &models.ReleaseDates{
					Theatrical: ptr(date("2026-06-01")),
					Windows:    []models.ReleaseWindow{{Kind: "digital", Date: date("2026-08-25")}},
				},
			},
			allowed: true,
		},
		{
			name: "movie digital release still ahead",
			req: Request{
				MediaType: models.MediaTypeMovie,
				ReleaseDates: &models.ReleaseDates{
					Theatrical: ptr(date("2026-06-01")),
					Windows:    []models.ReleaseWindow{{Kind: "digital", Date: date("2026-10-01")}},
				},
			},
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason := digitalReleaseDecision(tt.req, 48, now)
			if allowed != tt.allowed {
				t.Errorf("allowed = %v (%s), want %v", allowed, reason, tt.allowed)
			}
		})
	}
}

func TestDigitalReleaseGateRespectsPassthrough(t *testing.T) {
	user := &models.UserData{
		DigitalRelease: models.DigitalReleaseFilter{Enabled: true, ToleranceHours: 48},
	}
	p := New(user)
	p.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }

	future := time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC)
	req := Request{
		MediaType:    models.MediaTypeMovie,
		ReleaseDates: &models.ReleaseDates{Theatrical: &future},
	}
	streams := []*models.ParsedStream{
		{ID: "blocked", Type: models.StreamTypeDebrid},
		{ID: "exempt", Type: models.StreamTypeDebrid, Passthrough: []string{StageDigitalRelease}},
	}

	kept := p.Apply(streams, req)
	if len(kept) != 1 || kept[0].ID != "exempt" {
		t.Fatalf("kept = %+v", kept)
	}
	if p.Removed()["digital release: not yet released"] != 1 {
		t.Errorf("removed = %v", p.Removed())
	}
}
