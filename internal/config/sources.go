package config

import (
	"fmt"
	"os"
	"sort"
	"time"
	_ "time/tzdata" // zone lookups must not depend on the host

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/tejusbharadwaj/tankwatch/internal/gviz"
	"github.com/tejusbharadwaj/tankwatch/internal/models"
	"github.com/tejusbharadwaj/tankwatch/internal/readings"
	"github.com/tejusbharadwaj/tankwatch/internal/thresholds"
)

// SourceConfig is the static configuration of one tank feed.
type SourceConfig struct {
	ID                string        `yaml:"-"`
	Name              string        `yaml:"name"`
	SheetURL          string        `yaml:"sheet_url"`
	Sheet             string        `yaml:"sheet"`
	SettingsURL       string        `yaml:"settings_url"`
	SettingsSheet     string        `yaml:"settings_sheet"`
	Location          string        `yaml:"location"`
	Latitude          float64       `yaml:"latitude"`
	Longitude         float64       `yaml:"longitude"`
	MaxHeight         float64       `yaml:"max_height"`
	FloodedThreshold  float64       `yaml:"flooded_threshold"`
	DroughtThreshold  float64       `yaml:"drought_threshold"`
	DynamicThresholds bool          `yaml:"dynamic_thresholds"`
	Timezone          string        `yaml:"timezone"`
	Columns           ColumnsConfig `yaml:"columns"`
	// Limit caps the rows requested per cycle, newest first. 0 means all rows.
	Limit int `yaml:"limit"`
}

// ColumnsConfig describes which spreadsheet columns are selected and where
// each field sits in the returned row.
type ColumnsConfig struct {
	Select []string `yaml:"select"`
	Date   *int     `yaml:"date"`
	Time   *int     `yaml:"time"`
	Height *int     `yaml:"height"`
	// Inline threshold columns, indexes into the returned row.
	MaxHeight        *int `yaml:"max_height"`
	FloodedThreshold *int `yaml:"flooded_threshold"`
	DroughtThreshold *int `yaml:"drought_threshold"`
}

// LoadSources reads the source document at path.
func LoadSources(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sources file: %v", ErrConfig, err)
	}
	return ParseSources(data)
}

// ParseSources decodes a document mapping source id to its configuration.
// JSON and YAML are both accepted. Sources that fail validation are left out
// of the result and reported together in the returned error; the remaining
// sources are still returned.
func ParseSources(data []byte) ([]SourceConfig, error) {
	var doc map[string]SourceConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse sources: %v", ErrConfig, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", ErrConfig)
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		sources []SourceConfig
		errs    error
	)
	for _, id := range ids {
		src := doc[id]
		src.ID = id
		if err := src.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sources = append(sources, src)
	}
	return sources, errs
}

// Validate checks that the source can run.
func (s SourceConfig) Validate() error {
	var errs error
	fail := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf("%w: source %s: "+format, append([]interface{}{ErrConfig, s.ID}, args...)...))
	}

	if s.SheetURL == "" {
		fail("sheet_url is required")
	} else if _, err := gviz.BuildURL(s.SheetURL, s.Sheet, gviz.Query{}); err != nil {
		fail("%v", err)
	}
	if !s.Thresholds().Ordered() {
		fail("thresholds must satisfy max_height > 0 and flooded_threshold > drought_threshold")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			fail("invalid timezone %q", s.Timezone)
		}
	}
	if s.DynamicThresholds && s.SettingsURL == "" {
		if _, ok := s.InlineThresholdColumns(); !ok {
			fail("dynamic_thresholds needs settings_url or inline threshold columns")
		}
	}
	if s.Limit < 0 {
		fail("limit must not be negative")
	}
	if err := s.checkLayout(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// checkLayout reports a column index that does not name a selected column.
func (s SourceConfig) checkLayout() error {
	n := len(s.selectColumns())
	indexes := []struct {
		name string
		idx  *int
	}{
		{"date", s.Columns.Date},
		{"time", s.Columns.Time},
		{"height", s.Columns.Height},
		{"max_height", s.Columns.MaxHeight},
		{"flooded_threshold", s.Columns.FloodedThreshold},
		{"drought_threshold", s.Columns.DroughtThreshold},
	}
	var errs error
	for _, c := range indexes {
		if c.idx != nil && (*c.idx < 0 || *c.idx >= n) {
			errs = multierr.Append(errs, fmt.Errorf("%w: source %s: column %s index %d outside the %d selected columns",
				ErrConfig, s.ID, c.name, *c.idx, n))
		}
	}
	return errs
}

// Thresholds returns the static thresholds.
func (s SourceConfig) Thresholds() models.ThresholdConfig {
	return models.ThresholdConfig{
		MaxHeight:        s.MaxHeight,
		FloodedThreshold: s.FloodedThreshold,
		DroughtThreshold: s.DroughtThreshold,
	}
}

// TimeLocation returns the zone readings are composed in.
func (s SourceConfig) TimeLocation() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Layout returns the reading cell layout.
func (s SourceConfig) Layout() readings.Layout {
	l := readings.DefaultLayout
	if s.Columns.Date != nil {
		l.Date = *s.Columns.Date
	}
	if s.Columns.Time != nil {
		l.Time = *s.Columns.Time
	}
	if s.Columns.Height != nil {
		l.Height = *s.Columns.Height
	}
	return l
}

// InlineThresholdColumns returns the primary-feed threshold columns, if any
// are configured and dynamic thresholds are enabled.
func (s SourceConfig) InlineThresholdColumns() (thresholds.Columns, bool) {
	cols := thresholds.Columns{MaxHeight: -1, FloodedThreshold: -1, DroughtThreshold: -1}
	if !s.DynamicThresholds {
		return cols, false
	}
	found := false
	if s.Columns.MaxHeight != nil {
		cols.MaxHeight = *s.Columns.MaxHeight
		found = true
	}
	if s.Columns.FloodedThreshold != nil {
		cols.FloodedThreshold = *s.Columns.FloodedThreshold
		found = true
	}
	if s.Columns.DroughtThreshold != nil {
		cols.DroughtThreshold = *s.Columns.DroughtThreshold
		found = true
	}
	return cols, found
}

func (s SourceConfig) selectColumns() []string {
	if len(s.Columns.Select) > 0 {
		return s.Columns.Select
	}
	return []string{"A", "B", "C"}
}

// FeedURL is the url of the readings query. With a limit, rows are ordered
// newest first by the date and time columns so the limit keeps the latest.
func (s SourceConfig) FeedURL() (string, error) {
	cols := s.selectColumns()
	q := gviz.Query{Select: cols}
	if s.Limit > 0 {
		if err := s.checkLayout(); err != nil {
			return "", err
		}
		l := s.Layout()
		q = gviz.NewestFirst(cols, cols[l.Date], cols[l.Time], s.Limit)
	}
	return gviz.BuildURL(s.SheetURL, s.Sheet, q)
}

// SettingsFeedURL is the url of the settings feed, or "" when the source has
// none.
func (s SourceConfig) SettingsFeedURL() (string, error) {
	if !s.DynamicThresholds || s.SettingsURL == "" {
		return "", nil
	}
	return gviz.BuildURL(s.SettingsURL, s.SettingsSheet, gviz.Query{})
}

// SheetLink is the human-facing spreadsheet url.
func (s SourceConfig) SheetLink() string {
	return gviz.EditURL(s.SheetURL)
}

// MapURL is an embeddable map centred on the source.
func (s SourceConfig) MapURL() string {
	return fmt.Sprintf("https://maps.google.com/maps?q=%f,%f&z=17&output=embed", s.Latitude, s.Longitude)
}
