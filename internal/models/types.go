package models

import (
	"math"
	"time"
)

// Reading represents a single water-height sample from a tank feed.
type Reading struct {
	Time   time.Time `json:"time"`
	Height float64   `json:"height"`
}

// Millis returns the reading timestamp as epoch milliseconds.
func (r Reading) Millis() int64 {
	return r.Time.UnixMilli()
}

// ThresholdConfig holds the effective capacity and classification boundaries
// for one source, in meters.
type ThresholdConfig struct {
	MaxHeight        float64 `json:"maxHeight"`
	FloodedThreshold float64 `json:"floodedThreshold"`
	DroughtThreshold float64 `json:"droughtThreshold"`
}

// Ordered reports whether the flood boundary sits above the drought boundary
// and the capacity is positive.
func (t ThresholdConfig) Ordered() bool {
	return t.MaxHeight > 0 && t.FloodedThreshold > t.DroughtThreshold
}

// Percent returns height as a percentage of MaxHeight.
// A non-positive MaxHeight yields 0.
func (t ThresholdConfig) Percent(height float64) float64 {
	if t.MaxHeight <= 0 {
		return 0
	}
	return height / t.MaxHeight * 100
}

// RoundPercent rounds a percentage to one decimal place for display.
func RoundPercent(p float64) float64 {
	return math.Round(p*10) / 10
}

// Trend is the direction of the water level over the analytics window.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendSteady  Trend = "steady"
)

// AnalyticsSnapshot is derived from the readings inside the trailing window.
type AnalyticsSnapshot struct {
	WindowStart         time.Time     `json:"windowStart"`
	WindowEnd           time.Time     `json:"windowEnd"`
	Samples             int           `json:"samples"`
	AverageHeight       float64       `json:"averageHeight"`
	MaxHeight           float64       `json:"maxHeight"`
	MinHeight           float64       `json:"minHeight"`
	RateOfChangePerHour float64       `json:"rateOfChangePerHour"`
	Trend               Trend         `json:"trend"`
	FloodedDuration     time.Duration `json:"-"`
	DroughtDuration     time.Duration `json:"-"`
}

// FloodedMillis returns the flooded breach duration in milliseconds.
func (s AnalyticsSnapshot) FloodedMillis() int64 {
	return s.FloodedDuration.Milliseconds()
}

// DroughtMillis returns the drought breach duration in milliseconds.
func (s AnalyticsSnapshot) DroughtMillis() int64 {
	return s.DroughtDuration.Milliseconds()
}
