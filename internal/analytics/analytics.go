// Package analytics derives trend, extremes and threshold-breach durations
// from the readings inside a trailing time window.
//
// Every call recomputes from the reading set it is given; nothing is carried
// between calls.
package analytics

import (
	"errors"
	"fmt"
	"time"

	"github.com/tejusbharadwaj/tankwatch/internal/models"
	"github.com/tejusbharadwaj/tankwatch/internal/readings"
)

// ErrInsufficientData is returned when fewer than two readings fall in the window.
var ErrInsufficientData = errors.New("insufficient data in analytics window")

// TrendMode selects how the trend direction is decided.
type TrendMode string

const (
	// TrendByRate compares the rate of change against Options.Epsilon (m/h).
	TrendByRate TrendMode = "rate"
	// TrendByEndpoints compares the latest and oldest heights directly.
	TrendByEndpoints TrendMode = "endpoints"
)

// Options configure a computation.
type Options struct {
	Window  time.Duration
	Mode    TrendMode
	Epsilon float64
}

// DefaultOptions is a one-hour window with a 0.01 m/h steady band.
func DefaultOptions() Options {
	return Options{
		Window:  time.Hour,
		Mode:    TrendByRate,
		Epsilon: 0.01,
	}
}

// Validate checks the options for usable values.
func (o Options) Validate() error {
	if o.Window <= 0 {
		return fmt.Errorf("analytics window must be positive, got %s", o.Window)
	}
	if o.Epsilon < 0 {
		return fmt.Errorf("trend epsilon must not be negative, got %v", o.Epsilon)
	}
	switch o.Mode {
	case TrendByRate, TrendByEndpoints:
	default:
		return fmt.Errorf("invalid trend mode: %s", o.Mode)
	}
	return nil
}

// Window returns the readings with a timestamp at or after now-window, in
// chronological order. The input may be in any order.
func Window(rs []models.Reading, now time.Time, window time.Duration) []models.Reading {
	from := now.Add(-window)
	var out []models.Reading
	for _, r := range rs {
		if !r.Time.Before(from) {
			out = append(out, r)
		}
	}
	return readings.Chronological(out)
}

// Compute returns the snapshot for the window ending at now.
func Compute(rs []models.Reading, t models.ThresholdConfig, now time.Time, opts Options) (models.AnalyticsSnapshot, error) {
	win := Window(rs, now, opts.Window)
	snap := models.AnalyticsSnapshot{
		WindowStart: now.Add(-opts.Window),
		WindowEnd:   now,
		Samples:     len(win),
	}
	if len(win) < 2 {
		return snap, ErrInsufficientData
	}

	oldest, latest := win[0], win[len(win)-1]

	sum := 0.0
	snap.MaxHeight = oldest.Height
	snap.MinHeight = oldest.Height
	for _, r := range win {
		sum += r.Height
		if r.Height > snap.MaxHeight {
			snap.MaxHeight = r.Height
		}
		if r.Height < snap.MinHeight {
			snap.MinHeight = r.Height
		}
	}
	snap.AverageHeight = sum / float64(len(win))

	snap.RateOfChangePerHour = RatePerHour(oldest, latest)
	snap.Trend = trend(oldest, latest, snap.RateOfChangePerHour, opts)

	snap.FloodedDuration, snap.DroughtDuration = BreachDurations(win, t)
	return snap, nil
}

// RatePerHour is the height change between two readings in meters per hour.
// Readings with no elapsed time between them report 0.
func RatePerHour(from, to models.Reading) float64 {
	hours := to.Time.Sub(from.Time).Hours()
	if hours == 0 {
		return 0
	}
	return (to.Height - from.Height) / hours
}

func trend(oldest, latest models.Reading, rate float64, opts Options) models.Trend {
	if opts.Mode == TrendByEndpoints {
		switch {
		case latest.Height > oldest.Height:
			return models.TrendRising
		case latest.Height < oldest.Height:
			return models.TrendFalling
		default:
			return models.TrendSteady
		}
	}
	switch {
	case rate > opts.Epsilon:
		return models.TrendRising
	case rate < -opts.Epsilon:
		return models.TrendFalling
	default:
		return models.TrendSteady
	}
}

// BreachDurations accumulates the time spent above the flood threshold and
// below the drought threshold. The input must be chronological. Each sample's
// state holds until the next sample, so the last sample contributes nothing.
func BreachDurations(chrono []models.Reading, t models.ThresholdConfig) (flooded, drought time.Duration) {
	for i := 0; i+1 < len(chrono); i++ {
		dt := chrono[i+1].Time.Sub(chrono[i].Time)
		switch models.Classify(chrono[i].Height, t) {
		case models.StatusFlooded:
			flooded += dt
		case models.StatusDrought:
			drought += dt
		}
	}
	return flooded, drought
}
