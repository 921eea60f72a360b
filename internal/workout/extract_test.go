package workout

import (
	"math"
	"testing"

	"github.com/mkarlsen/pacerelay/internal/models"
)

func record(tags [][]string) models.ActivityRecord {
	return models.ActivityRecord{
		ID:       "rec1",
		AuthorID: "author1",
		Tags:     tags,
	}
}

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

func TestExtractMetrics_MilesConversion(t *testing.T) {
	rec := record([][]string{
		{"distance", "3.1", "mi"},
		{"duration", "1800"},
	})

	m := ExtractMetrics(rec)

	if !almostEqual(m.DistanceKm, 4.989, 0.001) {
		t.Errorf("DistanceKm = %v, want ~4.989", m.DistanceKm)
	}
	if m.DurationSeconds != 1800 {
		t.Errorf("DurationSeconds = %d, want 1800", m.DurationSeconds)
	}
	if m.ActivityType != models.ActivityRun {
		t.Errorf("ActivityType = %q, want %q (default)", m.ActivityType, models.ActivityRun)
	}
	if !almostEqual(m.PaceMinPerKm, 6.013, 0.01) {
		t.Errorf("PaceMinPerKm = %v, want ~6.013", m.PaceMinPerKm)
	}
	if !almostEqual(m.SpeedKmh, 9.978, 0.01) {
		t.Errorf("SpeedKmh = %v, want ~9.978", m.SpeedKmh)
	}
}

func TestExtractMetrics_ImplausibleDistanceZeroed(t *testing.T) {
	rec := record([][]string{
		{"distance", "1000", "km"},
	})

	m := ExtractMetrics(rec)

	if m.DistanceKm != 0 {
		t.Errorf("DistanceKm = %v, want 0 (out of bounds)", m.DistanceKm)
	}
}

func TestExtractMetrics_DistanceUnits(t *testing.T) {
	tests := []struct {
		name string
		tag  []string
		want float64
	}{
		{"kilometers", []string{"distance", "5.00", "km"}, 5.0},
		{"miles", []string{"distance", "1", "mi"}, 1.609344},
		{"meters", []string{"distance", "5000", "m"}, 5.0},
		{"unknown unit treated as km", []string{"distance", "5.00", "furlongs"}, 5.0},
		{"no unit treated as km", []string{"distance", "5.00"}, 5.0},
		{"below minimum zeroed", []string{"distance", "0.005", "km"}, 0},
		{"negative zeroed", []string{"distance", "-3", "km"}, 0},
		{"unparseable zeroed", []string{"distance", "five", "km"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ExtractMetrics(record([][]string{tt.tag}))
			if !almostEqual(m.DistanceKm, tt.want, 1e-9) {
				t.Errorf("DistanceKm = %v, want %v", m.DistanceKm, tt.want)
			}
		})
	}
}

func TestExtractMetrics_DurationClamped(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want int
	}{
		{"in range", "3600", 3600},
		{"above max clamped", "100000", MaxDurationSeconds},
		{"negative zeroed", "-50", 0},
		{"unparseable zeroed", "30m", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ExtractMetrics(record([][]string{{"duration", tt.val}}))
			if m.DurationSeconds != tt.want {
				t.Errorf("DurationSeconds = %d, want %d", m.DurationSeconds, tt.want)
			}
		})
	}
}

func TestExtractMetrics_ActivitySynonyms(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"running", models.ActivityRun},
		{"jog", models.ActivityRun},
		{"jogging", models.ActivityRun},
		{"Running", models.ActivityRun},
		{"cycling", models.ActivityCycle},
		{"bike", models.ActivityCycle},
		{"biking", models.ActivityCycle},
		{"walking", models.ActivityWalk},
		{"hike", models.ActivityWalk},
		{"hiking", models.ActivityWalk},
		{"run", models.ActivityRun},
		{"cycle", models.ActivityCycle},
		{"walk", models.ActivityWalk},
		{"swimming", "swimming"}, // unrecognized passes through
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			m := ExtractMetrics(record([][]string{{"activity_type", tt.raw}}))
			if m.ActivityType != tt.want {
				t.Errorf("ActivityType(%q) = %q, want %q", tt.raw, m.ActivityType, tt.want)
			}
		})
	}
}

func TestExtractMetrics_ExerciseTagFallback(t *testing.T) {
	m := ExtractMetrics(record([][]string{{"exercise", "cycling"}}))
	if m.ActivityType != models.ActivityCycle {
		t.Errorf("ActivityType = %q, want cycle from exercise tag", m.ActivityType)
	}
}

func TestExtractMetrics_FirstTagWins(t *testing.T) {
	rec := record([][]string{
		{"distance", "5.00", "km"},
		{"distance", "10.00", "km"},
	})

	m := ExtractMetrics(rec)

	if m.DistanceKm != 5.0 {
		t.Errorf("DistanceKm = %v, want 5.0 (first tag wins)", m.DistanceKm)
	}
}

func TestExtractMetrics_NoPaceForCycling(t *testing.T) {
	rec := record([][]string{
		{"distance", "20", "km"},
		{"duration", "3600"},
		{"activity_type", "cycling"},
	})

	m := ExtractMetrics(rec)

	if m.PaceMinPerKm != 0 {
		t.Errorf("PaceMinPerKm = %v, want 0 for cycling", m.PaceMinPerKm)
	}
	if !almostEqual(m.SpeedKmh, 20.0, 1e-9) {
		t.Errorf("SpeedKmh = %v, want 20.0", m.SpeedKmh)
	}
}

func TestExtractMetrics_BoundsInvariant(t *testing.T) {
	tags := [][][]string{
		{{"distance", "99999", "km"}, {"duration", "99999999"}},
		{{"distance", "-1"}, {"duration", "-1"}},
		{{"distance", "nonsense"}, {"duration", "nonsense"}},
		{},
	}

	for _, tagSet := range tags {
		m := ExtractMetrics(record(tagSet))
		if m.DistanceKm < 0 || m.DistanceKm > MaxDistanceKm {
			t.Errorf("DistanceKm %v out of bounds for tags %v", m.DistanceKm, tagSet)
		}
		if m.DurationSeconds < 0 || m.DurationSeconds > MaxDurationSeconds {
			t.Errorf("DurationSeconds %d out of bounds for tags %v", m.DurationSeconds, tagSet)
		}
		if m.Calories < 0 || m.ElevationGainM < 0 {
			t.Errorf("negative optional metric for tags %v: %+v", tagSet, m)
		}
	}
}

func TestExtractMetrics_CaloriesAndElevation(t *testing.T) {
	rec := record([][]string{
		{"calories", "350"},
		{"elevation_gain", "120.5"},
	})

	m := ExtractMetrics(rec)

	if m.Calories != 350 {
		t.Errorf("Calories = %d, want 350", m.Calories)
	}
	if !almostEqual(m.ElevationGainM, 120.5, 1e-9) {
		t.Errorf("ElevationGainM = %v, want 120.5", m.ElevationGainM)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Running  ", "running"},
		{"BIKE", "bike"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
