package session

import (
	"time"

	"github.com/tejusbharadwaj/tankwatch/internal/analytics"
	"github.com/tejusbharadwaj/tankwatch/internal/models"
	"github.com/tejusbharadwaj/tankwatch/internal/readings"
)

// SourceInfo describes where a source is and where its data lives.
type SourceInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	SheetLink string  `json:"sheetLink"`
	MapURL    string  `json:"mapUrl"`
}

// ReadingView is a reading with its derived status.
type ReadingView struct {
	Time      time.Time             `json:"time"`
	Timestamp int64                 `json:"timestamp"`
	Height    float64               `json:"height"`
	Percent   float64               `json:"percent"`
	Status    models.StatusCategory `json:"status"`
}

// Indicator carries the error and offline overlays.
type Indicator struct {
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"errorKind,omitempty"`
	Offline     bool       `json:"offline"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// ChartPoint is one point of the chart series.
type ChartPoint struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// Chart is the chronological series with the threshold lines.
type Chart struct {
	Points     []ChartPoint           `json:"points"`
	Thresholds models.ThresholdConfig `json:"thresholds"`
}

// Dashboard is the full single-source view.
type Dashboard struct {
	Source     SourceInfo             `json:"source"`
	Latest     *ReadingView           `json:"latest,omitempty"`
	Thresholds models.ThresholdConfig `json:"thresholds"`
	Table      []ReadingView          `json:"table"`
	Chart      Chart                  `json:"chart"`
	Indicator
}

// Overview is the card shown for a source in the multi-source grid.
type Overview struct {
	Source SourceInfo   `json:"source"`
	Latest *ReadingView `json:"latest,omitempty"`
	Indicator
}

// Insights is the analytics view.
type Insights struct {
	models.AnalyticsSnapshot
	FloodedMillis  int64                  `json:"floodedMillis"`
	DroughtMillis  int64                  `json:"droughtMillis"`
	AveragePercent float64                `json:"averagePercent"`
	MaxPercent     float64                `json:"maxPercent"`
	MinPercent     float64                `json:"minPercent"`
	Thresholds     models.ThresholdConfig `json:"thresholds"`
}

// Info returns the static description of the source.
func (s *Session) Info() SourceInfo {
	return SourceInfo{
		ID:        s.cfg.ID,
		Name:      s.cfg.Name,
		Location:  s.cfg.Location,
		Latitude:  s.cfg.Latitude,
		Longitude: s.cfg.Longitude,
		SheetLink: s.cfg.SheetLink(),
		MapURL:    s.cfg.MapURL(),
	}
}

func view(r models.Reading, t models.ThresholdConfig) ReadingView {
	return ReadingView{
		Time:      r.Time,
		Timestamp: r.Millis(),
		Height:    r.Height,
		Percent:   models.RoundPercent(t.Percent(r.Height)),
		Status:    models.Classify(r.Height, t),
	}
}

func indicator(st State) Indicator {
	ind := Indicator{Offline: st.Offline}
	if st.Err != nil {
		ind.Error = st.Err.Error()
		ind.ErrorKind = ErrorKind(st.Err)
	}
	if !st.LastUpdated.IsZero() {
		updated := st.LastUpdated
		ind.LastUpdated = &updated
	}
	return ind
}

func latest(st State) *ReadingView {
	if len(st.Readings) == 0 {
		return nil
	}
	v := view(st.Readings[0], st.Thresholds)
	return &v
}

func table(st State, limit int) []ReadingView {
	head := readings.Head(st.Readings, limit)
	out := make([]ReadingView, len(head))
	for i, r := range head {
		out[i] = view(r, st.Thresholds)
	}
	return out
}

func chart(st State) Chart {
	chrono := readings.Chronological(st.Readings)
	points := make([]ChartPoint, len(chrono))
	for i, r := range chrono {
		points[i] = ChartPoint{X: r.Millis(), Y: r.Height}
	}
	return Chart{Points: points, Thresholds: st.Thresholds}
}

// Dashboard builds the single-source view.
func (s *Session) Dashboard() Dashboard {
	st := s.Snapshot()
	return Dashboard{
		Source:     s.Info(),
		Latest:     latest(st),
		Thresholds: st.Thresholds,
		Table:      table(st, TableSize),
		Chart:      chart(st),
		Indicator:  indicator(st),
	}
}

// Overview builds the grid card.
func (s *Session) Overview() Overview {
	st := s.Snapshot()
	return Overview{
		Source:    s.Info(),
		Latest:    latest(st),
		Indicator: indicator(st),
	}
}

// Readings returns up to limit readings, newest first. limit <= 0 returns all.
func (s *Session) Readings(limit int) []ReadingView {
	return table(s.Snapshot(), limit)
}

// Chart returns the chronological chart series.
func (s *Session) Chart() Chart {
	return chart(s.Snapshot())
}

// Insights computes analytics over the trailing window. It returns
// analytics.ErrInsufficientData when the window holds fewer than two readings.
func (s *Session) Insights() (Insights, error) {
	st := s.Snapshot()
	if len(st.Readings) == 0 {
		return Insights{}, analytics.ErrInsufficientData
	}

	now := s.opts.Now()
	if s.opts.Anchor != AnchorClock {
		now = st.Readings[0].Time
	}

	snap, err := analytics.Compute(st.Readings, st.Thresholds, now, s.opts.Analytics)
	if err != nil {
		return Insights{}, err
	}

	t := st.Thresholds
	return Insights{
		AnalyticsSnapshot: snap,
		FloodedMillis:     snap.FloodedMillis(),
		DroughtMillis:     snap.DroughtMillis(),
		AveragePercent:    models.RoundPercent(t.Percent(snap.AverageHeight)),
		MaxPercent:        models.RoundPercent(t.Percent(snap.MaxHeight)),
		MinPercent:        models.RoundPercent(t.Percent(snap.MinHeight)),
		Thresholds:        t,
	}, nil
}
