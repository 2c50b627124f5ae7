package filter

import (
	"time"

	"streamforge/models"
)

// digitalReleaseDecision evaluates the release-calendar rule table for the
// whole request. Rules are ordered; the first one that applies decides.
func digitalReleaseDecision(req Request, toleranceHours int, now time.Time) (allowed bool, reason string) {
	tolerance := time.Duration(toleranceHours) * time.Hour

	if req.MediaType != models.MediaTypeMovie {
		details := req.EpisodeDetails
		if details == nil || details.AirDate == "" {
			return true, "no episode air date"
		}
		air, err := time.Parse("2006-01-02", details.AirDate)
		if err != nil {
			return true, "unparseable episode air date"
		}
		if absDuration(now.Sub(air)) <= tolerance {
			return true, "episode within tolerance"
		}
		if air.After(now) {
			return false, "episode not yet aired"
		}
		return true, "episode already aired"
	}

	dates := req.ReleaseDates
	if dates != nil && dates.Theatrical != nil {
		age := now.Sub(*dates.Theatrical)
		if absDuration(age) <= tolerance {
			return true, "theatrical release within tolerance"
		}
		if dates.Theatrical.After(now) {
			return false, "not yet released"
		}
		if age > 365*24*time.Hour {
			return true, "released over a year ago"
		}
	}

	var digitals []models.ReleaseWindow
	if dates != nil {
		digitals = dates.DigitalWindows()
	}
	if len(digitals) == 0 {
		return true, "no digital release dates"
	}

	var closestFuture *time.Time
	for i := range digitals {
		date := digitals[i].Date
		if !date.After(now) {
			return true, "digital release already out"
		}
		if closestFuture == nil || date.Before(*closestFuture) {
			closestFuture = &date
		}
	}
	if closestFuture.Sub(now) <= tolerance {
		return true, "digital release imminent"
	}
	return false, "digital release still ahead"
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
