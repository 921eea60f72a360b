// Package workout parses domain metrics out of activity record tags.
// Tag data comes from many independent publishers with inconsistent
// formatting, so parsing is defensive: bad values zero out, they never
// error, and one corrupted record cannot take down a feed page.
package workout

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mkarlsen/pacerelay/internal/models"
)

// Unit conversion constants.
const (
	KmPerMile  = 1.609344
	KmPerMeter = 0.001
)

// Plausibility bounds. Distance outside its range is treated as corrupted
// and zeroed; duration is clamped into range instead.
const (
	MinDistanceKm      = 0.01
	MaxDistanceKm      = 500
	MaxDurationSeconds = 86400
)

var activitySynonyms = map[string]string{
	"running": models.ActivityRun,
	"jog":     models.ActivityRun,
	"jogging": models.ActivityRun,
	"cycling": models.ActivityCycle,
	"bike":    models.ActivityCycle,
	"biking":  models.ActivityCycle,
	"walking": models.ActivityWalk,
	"hike":    models.ActivityWalk,
	"hiking":  models.ActivityWalk,
}

// ExtractMetrics parses the known metric tags from a record. All failures
// degrade to zero values; the returned struct is always in-bounds.
func ExtractMetrics(rec models.ActivityRecord) models.DerivedMetrics {
	m := models.DerivedMetrics{}

	m.DistanceKm = extractDistance(rec)
	m.DurationSeconds = extractDuration(rec)
	m.ActivityType = extractActivityType(rec)
	m.Calories = parseNonNegativeInt(rec.TagValue("calories"))
	m.ElevationGainM = parseNonNegativeFloat(rec.TagValue("elevation_gain"))

	if m.DistanceKm > 0 && m.DurationSeconds > 0 {
		hours := float64(m.DurationSeconds) / 3600
		m.SpeedKmh = m.DistanceKm / hours

		if m.ActivityType == models.ActivityRun || m.ActivityType == models.ActivityWalk {
			m.PaceMinPerKm = (float64(m.DurationSeconds) / 60) / m.DistanceKm
		}
	}

	return m
}

func extractDistance(rec models.ActivityRecord) float64 {
	vals := rec.Tag("distance")
	if len(vals) == 0 {
		return 0
	}

	value := parseNonNegativeFloat(vals[0])
	if value == 0 {
		return 0
	}

	unit := "km"
	if len(vals) > 1 {
		unit = Canonical(vals[1])
	}

	km := value
	switch unit {
	case "mi", "mile", "miles":
		km = value * KmPerMile
	case "m", "meter", "meters":
		km = value * KmPerMeter
	}
	// Unknown unit strings fall through as kilometers.

	if km < MinDistanceKm || km > MaxDistanceKm {
		return 0
	}
	return km
}

func extractDuration(rec models.ActivityRecord) int {
	seconds := parseNonNegativeInt(rec.TagValue("duration"))
	if seconds > MaxDurationSeconds {
		return MaxDurationSeconds
	}
	return seconds
}

// extractActivityType collapses synonyms into the closed run/cycle/walk
// set. A record with no type tag defaults to run; an unrecognized type
// passes through unchanged and is excluded from type-filtered views.
func extractActivityType(rec models.ActivityRecord) string {
	raw := rec.TagValue("activity_type")
	if raw == "" {
		raw = rec.TagValue("exercise")
	}
	if raw == "" {
		return models.ActivityRun
	}

	canon := Canonical(raw)
	switch canon {
	case models.ActivityRun, models.ActivityCycle, models.ActivityWalk:
		return canon
	}
	if mapped, ok := activitySynonyms[canon]; ok {
		return mapped
	}
	return raw
}

// Canonical lowercases, trims, and unicode-normalizes a tag value so
// publisher encoding quirks do not defeat string comparison.
func Canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

func parseNonNegativeFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseNonNegativeInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
