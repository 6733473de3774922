// Package session owns the live state of one tank source.
//
// A Session runs the fetch, reconstruct and resolve pipeline for its source and
// keeps the last good reading set together with the thresholds in effect. A
// failed refresh never discards the previous readings; it only sets the error
// indicator until the next success.
//
// Architecture:
//
//	Refresh ─┬─> thresholds.Resolver (settings feed, failures swallowed)
//	         ├─> api.Fetcher ─> gviz.Parse ─> readings.Reconstructor
//	         ├─> thresholds.FromColumns (inline columns, optional)
//	         └─> commit (sequence guarded, replaces state whole)
//
// Views (Dashboard, Overview, Readings, Chart, Insights) are derived from a
// consistent copy of the state on every call.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tankwatch/internal/analytics"
	"github.com/tejusbharadwaj/tankwatch/internal/api"
	"github.com/tejusbharadwaj/tankwatch/internal/config"
	"github.com/tejusbharadwaj/tankwatch/internal/gviz"
	"github.com/tejusbharadwaj/tankwatch/internal/models"
	"github.com/tejusbharadwaj/tankwatch/internal/readings"
	"github.com/tejusbharadwaj/tankwatch/internal/thresholds"
)

// Anchor selects the end of the analytics window.
type Anchor string

const (
	// AnchorLatest ends the window at the newest reading.
	AnchorLatest Anchor = "latest"
	// AnchorClock ends the window at the current time.
	AnchorClock Anchor = "clock"
)

// TableSize is the number of readings shown in the table view.
const TableSize = 50

// Options configure derived views.
type Options struct {
	Analytics analytics.Options
	Anchor    Anchor
	Now       func() time.Time
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Analytics: analytics.DefaultOptions(),
		Anchor:    AnchorLatest,
		Now:       time.Now,
	}
}

// State is a consistent copy of a session's data.
type State struct {
	// Readings are newest first. They are replaced whole, never modified.
	Readings    []models.Reading
	Thresholds  models.ThresholdConfig
	LastUpdated time.Time
	LastAttempt time.Time
	Err         error
	Offline     bool
	// Generation increases on every visible change.
	Generation uint64
}

// Session is the per-source state holder.
type Session struct {
	cfg       config.SourceConfig
	fetcher   api.Fetcher
	feedURL   string
	resolver  *thresholds.Resolver
	recon     *readings.Reconstructor
	inline    thresholds.Columns
	hasInline bool
	opts      Options
	logger    *logrus.Entry

	seq atomic.Uint64

	mu        sync.RWMutex
	state     State
	committed uint64
}

// New creates a session for cfg. It fails only when the feed urls cannot be
// built.
func New(cfg config.SourceConfig, fetcher api.Fetcher, opts Options, logger *logrus.Logger) (*Session, error) {
	feedURL, err := cfg.FeedURL()
	if err != nil {
		return nil, err
	}
	settingsURL, err := cfg.SettingsFeedURL()
	if err != nil {
		return nil, fmt.Errorf("%w: source %s: %v", config.ErrConfig, cfg.ID, err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	entry := logger.WithField("source", cfg.ID)
	inline, hasInline := cfg.InlineThresholdColumns()

	return &Session{
		cfg:       cfg,
		fetcher:   fetcher,
		feedURL:   feedURL,
		resolver:  thresholds.NewResolver(fetcher, settingsURL, entry),
		recon:     readings.NewReconstructor(cfg.Layout(), cfg.TimeLocation()),
		inline:    inline,
		hasInline: hasInline,
		opts:      opts,
		logger:    entry,
		state:     State{Thresholds: cfg.Thresholds()},
	}, nil
}

// ID returns the source id.
func (s *Session) ID() string {
	return s.cfg.ID
}

// Config returns the static source configuration.
func (s *Session) Config() config.SourceConfig {
	return s.cfg
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetOffline sets the offline indicator.
func (s *Session) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Offline != offline {
		s.state.Offline = offline
		s.state.Generation++
	}
}

// Refresh runs one fetch cycle. The returned error is also recorded as the
// session's error indicator unless a newer cycle has already committed.
func (s *Session) Refresh(ctx context.Context) error {
	seq := s.seq.Add(1)
	start := time.Now()

	current := s.Snapshot().Thresholds
	th := s.resolver.Resolve(ctx, current)

	rs, th, err := s.load(ctx, th)

	if cerr := s.commit(seq, rs, th, err); cerr != nil {
		s.logger.WithField("seq", seq).Debug("Discarding superseded refresh result")
		return cerr
	}

	cycleDuration.WithLabelValues(s.cfg.ID).Observe(time.Since(start).Seconds())
	if err != nil {
		cycles.WithLabelValues(s.cfg.ID, ErrorKind(err)).Inc()
		s.logger.WithError(err).WithField("kind", ErrorKind(err)).Error("Refresh failed, keeping previous readings")
		return err
	}

	cycles.WithLabelValues(s.cfg.ID, "ok").Inc()
	waterHeight.WithLabelValues(s.cfg.ID).Set(rs[0].Height)
	lastSuccess.WithLabelValues(s.cfg.ID).SetToCurrentTime()
	s.logger.WithFields(logrus.Fields{
		"readings": len(rs),
		"latest":   rs[0].Height,
		"duration": time.Since(start),
	}).Info("Refresh completed")
	return nil
}

// load fetches and reconstructs the primary feed. Thresholds found in inline
// columns are applied on top of th.
func (s *Session) load(ctx context.Context, th models.ThresholdConfig) ([]models.Reading, models.ThresholdConfig, error) {
	body, err := s.fetcher.Fetch(ctx, s.feedURL)
	if err != nil {
		return nil, th, err
	}
	table, err := gviz.Parse(body)
	if err != nil {
		return nil, th, err
	}

	if s.hasInline {
		th = s.applyInline(table.Rows, th)
	}

	res := s.recon.Rows(table.Rows)
	if n := len(res.Rejected); n > 0 {
		rejectedRows.WithLabelValues(s.cfg.ID).Add(float64(n))
		for _, rej := range res.Rejected {
			s.logger.WithError(rej.Reason).WithField("row", rej.Row).Debug("Dropped feed row")
		}
		s.logger.WithFields(logrus.Fields{
			"rejected": n,
			"rows":     len(table.Rows),
		}).Info("Dropped unreadable feed rows")
	}
	if len(res.Readings) == 0 {
		return nil, th, fmt.Errorf("%w: %d rows, none readable", ErrNoData, len(table.Rows))
	}
	return res.Readings, th, nil
}

func (s *Session) applyInline(rows []gviz.Row, th models.ThresholdConfig) models.ThresholdConfig {
	// A limited feed arrives newest first; the column scan expects oldest first.
	if s.cfg.Limit > 0 {
		reversed := make([]gviz.Row, len(rows))
		for i, r := range rows {
			reversed[len(rows)-1-i] = r
		}
		rows = reversed
	}

	override := thresholds.FromColumns(rows, s.inline)
	if override.Empty() {
		return th
	}
	next, err := override.Apply(th)
	if err != nil {
		s.logger.WithError(err).Warn("Rejected inline thresholds")
		return th
	}
	if next != th {
		s.logger.WithFields(logrus.Fields{
			"max_height":        next.MaxHeight,
			"flooded_threshold": next.FloodedThreshold,
			"drought_threshold": next.DroughtThreshold,
		}).Info("Thresholds updated from feed columns")
	}
	return next
}

// commit replaces the state unless a cycle started later has already
// committed. Thresholds are kept even when the readings fetch failed.
func (s *Session) commit(seq uint64, rs []models.Reading, th models.ThresholdConfig, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.committed {
		return ErrStale
	}
	s.committed = seq

	now := s.opts.Now()
	s.state.Thresholds = th
	s.state.LastAttempt = now
	s.state.Err = err
	if err == nil {
		s.state.Readings = rs
		s.state.LastUpdated = now
	}
	s.state.Generation++
	return nil
}
