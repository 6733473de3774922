// Package thresholds resolves the effective capacity and flood/drought
// boundaries of a source.
//
// Static defaults come from the source configuration. A source with dynamic
// thresholds re-reads them every cycle, either from the last row of a
// secondary settings feed or from dedicated columns of its primary feed.
// Overrides are partial: a value that does not parse leaves its threshold as
// it was.
package thresholds

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tankwatch/internal/api"
	"github.com/tejusbharadwaj/tankwatch/internal/gviz"
	"github.com/tejusbharadwaj/tankwatch/internal/models"
)

var (
	// ErrNoSettings is returned when the settings feed has no rows.
	ErrNoSettings = errors.New("settings feed has no rows")
	// ErrOrdering is returned when an override would put the drought boundary
	// at or above the flood boundary.
	ErrOrdering = errors.New("thresholds out of order")
)

// Override is a partial threshold update. Nil fields are left unchanged.
type Override struct {
	MaxHeight        *float64
	FloodedThreshold *float64
	DroughtThreshold *float64
}

// Empty reports whether the override changes nothing.
func (o Override) Empty() bool {
	return o.MaxHeight == nil && o.FloodedThreshold == nil && o.DroughtThreshold == nil
}

// Apply returns t with the override applied. The result must stay ordered;
// otherwise t is returned unchanged with ErrOrdering.
func (o Override) Apply(t models.ThresholdConfig) (models.ThresholdConfig, error) {
	next := t
	if o.MaxHeight != nil {
		next.MaxHeight = *o.MaxHeight
	}
	if o.FloodedThreshold != nil {
		next.FloodedThreshold = *o.FloodedThreshold
	}
	if o.DroughtThreshold != nil {
		next.DroughtThreshold = *o.DroughtThreshold
	}
	if !next.Ordered() {
		return t, fmt.Errorf("%w: max=%v flood=%v drought=%v",
			ErrOrdering, next.MaxHeight, next.FloodedThreshold, next.DroughtThreshold)
	}
	return next, nil
}

// Columns names the cell index of each threshold value in a row.
// A negative index means the value is not present.
type Columns struct {
	MaxHeight        int
	FloodedThreshold int
	DroughtThreshold int
}

// SettingsColumns is the fixed max, flood, drought order of a settings feed.
var SettingsColumns = Columns{MaxHeight: 0, FloodedThreshold: 1, DroughtThreshold: 2}

// FromLastRow reads the override from the last row of a table.
func FromLastRow(rows []gviz.Row, cols Columns) Override {
	if len(rows) == 0 {
		return Override{}
	}
	last := rows[len(rows)-1]
	return Override{
		MaxHeight:        number(last, cols.MaxHeight),
		FloodedThreshold: number(last, cols.FloodedThreshold),
		DroughtThreshold: number(last, cols.DroughtThreshold),
	}
}

// FromColumns scans rows from the last to the first and takes, for each
// column independently, the most recent non-null cell. A non-numeric value
// found that way still ends the search for its column.
func FromColumns(rows []gviz.Row, cols Columns) Override {
	return Override{
		MaxHeight:        lastValue(rows, cols.MaxHeight),
		FloodedThreshold: lastValue(rows, cols.FloodedThreshold),
		DroughtThreshold: lastValue(rows, cols.DroughtThreshold),
	}
}

func lastValue(rows []gviz.Row, col int) *float64 {
	if col < 0 {
		return nil
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Cell(col).Null() {
			continue
		}
		return number(rows[i], col)
	}
	return nil
}

func number(row gviz.Row, col int) *float64 {
	if col < 0 {
		return nil
	}
	f, ok := row.Cell(col).Float()
	if !ok {
		return nil
	}
	return &f
}

// Resolver re-reads thresholds from a settings feed.
type Resolver struct {
	fetcher     api.Fetcher
	settingsURL string
	logger      *logrus.Entry
}

// NewResolver creates a resolver for the settings feed at settingsURL.
// An empty url disables the feed; Resolve then returns its input.
func NewResolver(fetcher api.Fetcher, settingsURL string, logger *logrus.Entry) *Resolver {
	return &Resolver{
		fetcher:     fetcher,
		settingsURL: settingsURL,
		logger:      logger,
	}
}

// Fetch reads the settings feed and returns its override.
func (r *Resolver) Fetch(ctx context.Context) (Override, error) {
	body, err := r.fetcher.Fetch(ctx, r.settingsURL)
	if err != nil {
		return Override{}, err
	}
	table, err := gviz.Parse(body)
	if err != nil {
		return Override{}, err
	}
	if len(table.Rows) == 0 {
		return Override{}, ErrNoSettings
	}
	return FromLastRow(table.Rows, SettingsColumns), nil
}

// Resolve applies the settings feed to current. Failures are logged and
// current is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, current models.ThresholdConfig) models.ThresholdConfig {
	if r == nil || r.settingsURL == "" {
		return current
	}

	override, err := r.Fetch(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to fetch threshold settings, keeping previous thresholds")
		return current
	}

	next, err := override.Apply(current)
	if err != nil {
		r.logger.WithError(err).Warn("Rejected threshold settings")
		return current
	}

	if next != current {
		r.logger.WithFields(logrus.Fields{
			"max_height":        next.MaxHeight,
			"flooded_threshold": next.FloodedThreshold,
			"drought_threshold": next.DroughtThreshold,
		}).Info("Thresholds updated from settings feed")
	}
	return next
}
