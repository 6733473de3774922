package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/tankwatch/internal/analytics"
	"github.com/tejusbharadwaj/tankwatch/internal/api"
	"github.com/tejusbharadwaj/tankwatch/internal/api/mocks"
	"github.com/tejusbharadwaj/tankwatch/internal/config"
	"github.com/tejusbharadwaj/tankwatch/internal/gviz"
	"github.com/tejusbharadwaj/tankwatch/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func tankConfig() config.SourceConfig {
	return config.SourceConfig{
		ID:               "tank1",
		Name:             "Tank 1",
		SheetURL:         "https://docs.google.com/spreadsheets/d/abc/gviz/tq",
		Sheet:            "Sheet1",
		Location:         "North field",
		MaxHeight:        3,
		FloodedThreshold: 2.5,
		DroughtThreshold: 0.5,
		Timezone:         "UTC",
	}
}

func feedURL(t *testing.T, cfg config.SourceConfig) string {
	t.Helper()
	u, err := cfg.FeedURL()
	require.NoError(t, err)
	return u
}

// row renders one A,B,C feed row on 15 Jan 2024 at hh:mm.
func row(hh, mm int, height string, extra ...string) string {
	cells := []string{
		`{"v":"Date(2024,0,15)"}`,
		fmt.Sprintf(`{"v":"Date(1899,11,30,%d,%d,0)"}`, hh, mm),
		fmt.Sprintf(`{"v":%s}`, height),
	}
	cells = append(cells, extra...)
	return `{"c":[` + strings.Join(cells, ",") + `]}`
}

func envelope(rows ...string) string {
	return `/*O_o*/
google.visualization.Query.setResponse({"version":"0.6","status":"ok","table":{"cols":[],"rows":[` +
		strings.Join(rows, ",") + `]}});`
}

func at(hh, mm int) time.Time {
	return time.Date(2024, time.January, 15, hh, mm, 0, 0, time.UTC)
}

func newSession(t *testing.T, cfg config.SourceConfig, f api.Fetcher, opts Options) *Session {
	t.Helper()
	s, err := New(cfg, f, opts, quietLogger())
	require.NoError(t, err)
	return s
}

func TestSingleFloodedReading(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := tankConfig()
	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), feedURL(t, cfg)).Return(envelope(row(10, 0, "2.8")), nil)

	s := newSession(t, cfg, fetcher, DefaultOptions())
	require.NoError(t, s.Refresh(context.Background()))

	d := s.Dashboard()
	require.NotNil(t, d.Latest)
	assert.Equal(t, models.StatusFlooded, d.Latest.Status)
	assert.Equal(t, 93.3, d.Latest.Percent)
	assert.Equal(t, at(10, 0), d.Latest.Time)
	assert.Len(t, d.Table, 1)
	assert.Empty(t, d.Error)
	assert.NotNil(t, d.LastUpdated)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/abc", d.Source.SheetLink)

	_, err := s.Insights()
	assert.ErrorIs(t, err, analytics.ErrInsufficientData)
}

func TestRefreshFailureKeepsPreviousReadings(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := tankConfig()
	url := feedURL(t, cfg)
	fetcher := mocks.NewMockFetcher(ctrl)
	gomock.InOrder(
		fetcher.EXPECT().Fetch(gomock.Any(), url).Return(envelope(row(10, 0, "1.0"), row(10, 30, "1.5")), nil),
		fetcher.EXPECT().Fetch(gomock.Any(), url).Return("", fmt.Errorf("%w: got 503", api.ErrNetwork)),
		fetcher.EXPECT().Fetch(gomock.Any(), url).Return(envelope(row(11, 0, "1.6")), nil),
	)

	s := newSession(t, cfg, fetcher, DefaultOptions())
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx))
	first := s.Snapshot()
	require.Len(t, first.Readings, 2)

	err := s.Refresh(ctx)
	assert.ErrorIs(t, err, api.ErrNetwork)

	failed := s.Snapshot()
	assert.Equal(t, first.Readings, failed.Readings)
	assert.Equal(t, first.LastUpdated, failed.LastUpdated)
	assert.Greater(t, failed.Generation, first.Generation)

	d := s.Dashboard()
	assert.Equal(t, KindNetwork, d.ErrorKind)
	require.NotNil(t, d.Latest)
	assert.Equal(t, 1.5, d.Latest.Height)

	require.NoError(t, s.Refresh(ctx))
	assert.Nil(t, s.Snapshot().Err)
	assert.Len(t, s.Snapshot().Readings, 1)
}

func TestRefreshErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind string
	}{
		{name: "login page", body: "<html>sign in</html>", kind: KindFormat},
		{name: "broken payload", body: "google.visualization.Query.setResponse({);", kind: KindParse},
		{name: "empty table", body: envelope(), kind: KindNoData},
		{name: "only unreadable rows", body: envelope(row(10, 0, `"n/a"`), `{"c":[null,null,{"v":1}]}`), kind: KindNoData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			fetcher := mocks.NewMockFetcher(ctrl)
			fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(tt.body, nil)

			s := newSession(t, tankConfig(), fetcher, DefaultOptions())
			err := s.Refresh(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, ErrorKind(err))
			assert.Equal(t, tt.kind, s.Dashboard().ErrorKind)
			assert.Nil(t, s.Dashboard().Latest)
		})
	}
}

func TestRefreshDropsBadRows(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(envelope(
		row(9, 0, "1.2"),
		row(9, 15, `"sensor fault"`),
		`{"c":[{"v":"Date(2024,0,15)"},null,{"v":1.4}]}`,
		row(9, 30, "1.3"),
	), nil)

	s := newSession(t, tankConfig(), fetcher, DefaultOptions())
	require.NoError(t, s.Refresh(context.Background()))

	rs := s.Readings(0)
	require.Len(t, rs, 2)
	assert.Equal(t, at(9, 30), rs[0].Time)
	assert.Equal(t, at(9, 0), rs[1].Time)
}

func TestDynamicThresholdsFromSettingsFeed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := tankConfig()
	cfg.DynamicThresholds = true
	cfg.SettingsURL = "https://docs.google.com/spreadsheets/d/settings/gviz/tq"
	cfg.SettingsSheet = "Settings"
	settingsURL, err := cfg.SettingsFeedURL()
	require.NoError(t, err)

	fetcher := mocks.NewMockFetcher(ctrl)
	gomock.InOrder(
		fetcher.EXPECT().Fetch(gomock.Any(), settingsURL).
			Return(envelope(`{"c":[{"v":4},{"v":3.5},{"v":1}]}`), nil),
		fetcher.EXPECT().Fetch(gomock.Any(), feedURL(t, cfg)).
			Return(envelope(row(10, 0, "2.8")), nil),
		// Settings fail on the next cycle and the readings fetch fails too;
		// the resolved thresholds survive both.
		fetcher.EXPECT().Fetch(gomock.Any(), settingsURL).
			Return("", fmt.Errorf("%w: got 500", api.ErrNetwork)),
		fetcher.EXPECT().Fetch(gomock.Any(), feedURL(t, cfg)).
			Return("", fmt.Errorf("%w: got 500", api.ErrNetwork)),
	)

	s := newSession(t, cfg, fetcher, DefaultOptions())
	require.NoError(t, s.Refresh(context.Background()))

	want := models.ThresholdConfig{MaxHeight: 4, FloodedThreshold: 3.5, DroughtThreshold: 1}
	d := s.Dashboard()
	assert.Equal(t, want, d.Thresholds)
	assert.Equal(t, models.StatusNormal, d.Latest.Status)
	assert.Equal(t, 70.0, d.Latest.Percent)

	assert.Error(t, s.Refresh(context.Background()))
	assert.Equal(t, want, s.Snapshot().Thresholds)
}

func TestInlineThresholdColumns(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	maxCol, floodCol, droughtCol := 3, 4, 5
	cfg := tankConfig()
	cfg.ID = "tank2"
	cfg.DynamicThresholds = true
	cfg.Columns = config.ColumnsConfig{
		Select:           []string{"A", "B", "C", "J", "K", "L"},
		MaxHeight:        &maxCol,
		FloodedThreshold: &floodCol,
		DroughtThreshold: &droughtCol,
	}

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), feedURL(t, cfg)).Return(envelope(
		row(10, 0, "1.0", `{"v":2}`, `{"v":1.6}`, `{"v":0.3}`),
		row(10, 5, "1.1", `{"v":2.2}`, `null`, `null`),
		row(10, 10, "1.2", `null`, `null`, `null`),
	), nil)

	s := newSession(t, cfg, fetcher, DefaultOptions())
	require.NoError(t, s.Refresh(context.Background()))

	assert.Equal(t,
		models.ThresholdConfig{MaxHeight: 2.2, FloodedThreshold: 1.6, DroughtThreshold: 0.3},
		s.Snapshot().Thresholds)
	assert.Len(t, s.Readings(0), 3)
}

func TestInlineThresholdColumnsNewestFirstFeed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	maxCol := 3
	cfg := tankConfig()
	cfg.DynamicThresholds = true
	cfg.Limit = 10
	cfg.Columns = config.ColumnsConfig{
		Select:    []string{"A", "B", "C", "J"},
		MaxHeight: &maxCol,
	}

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), feedURL(t, cfg)).Return(envelope(
		row(10, 10, "1.2", `{"v":3.5}`),
		row(10, 0, "1.0", `{"v":2.8}`),
	), nil)

	s := newSession(t, cfg, fetcher, DefaultOptions())
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 3.5, s.Snapshot().Thresholds.MaxHeight)
}

// fetchFunc adapts a function to api.Fetcher.
type fetchFunc func(ctx context.Context, url string) (string, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) (string, error) { return f(ctx, url) }

func TestStaleRefreshIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	fetcher := fetchFunc(func(ctx context.Context, url string) (string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release
			return envelope(row(8, 0, "0.9")), nil
		}
		return envelope(row(9, 0, "1.9")), nil
	})

	s := newSession(t, tankConfig(), fetcher, DefaultOptions())

	slow := make(chan error, 1)
	go func() { slow <- s.Refresh(context.Background()) }()
	<-started

	require.NoError(t, s.Refresh(context.Background()))
	close(release)

	assert.ErrorIs(t, <-slow, ErrStale)
	rs := s.Readings(0)
	require.Len(t, rs, 1)
	assert.Equal(t, 1.9, rs[0].Height)
}

func TestInsightsAnchors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	body := envelope(row(9, 0, "0.2"), row(10, 0, "1.0"), row(10, 30, "1.5"))

	t.Run("latest reading", func(t *testing.T) {
		fetcher := mocks.NewMockFetcher(ctrl)
		fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(body, nil)

		s := newSession(t, tankConfig(), fetcher, DefaultOptions())
		require.NoError(t, s.Refresh(context.Background()))

		in, err := s.Insights()
		require.NoError(t, err)
		assert.Equal(t, 2, in.Samples)
		assert.InDelta(t, 1.0, in.RateOfChangePerHour, 1e-9)
		assert.Equal(t, models.TrendRising, in.Trend)
		assert.Equal(t, 50.0, in.MaxPercent)
		assert.Equal(t, 33.3, in.MinPercent)
		assert.Equal(t, int64(0), in.FloodedMillis)
	})

	t.Run("wall clock", func(t *testing.T) {
		fetcher := mocks.NewMockFetcher(ctrl)
		fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(body, nil)

		opts := DefaultOptions()
		opts.Anchor = AnchorClock
		opts.Now = func() time.Time { return at(12, 0) }

		s := newSession(t, tankConfig(), fetcher, opts)
		require.NoError(t, s.Refresh(context.Background()))

		_, err := s.Insights()
		assert.ErrorIs(t, err, analytics.ErrInsufficientData)
	})
}

func TestTableAndChart(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var rows []string
	for i := 0; i < 60; i++ {
		rows = append(rows, row(i/60+8, i%60, fmt.Sprintf("%.2f", 1+float64(i)/100)))
	}
	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(envelope(rows...), nil)

	s := newSession(t, tankConfig(), fetcher, DefaultOptions())
	require.NoError(t, s.Refresh(context.Background()))

	d := s.Dashboard()
	require.Len(t, d.Table, TableSize)
	assert.Equal(t, at(8, 59), d.Table[0].Time)
	assert.Len(t, s.Readings(0), 60)
	assert.Len(t, s.Readings(5), 5)

	c := s.Chart()
	require.Len(t, c.Points, 60)
	assert.Equal(t, at(8, 0).UnixMilli(), c.Points[0].X)
	assert.Equal(t, at(8, 59).UnixMilli(), c.Points[59].X)
	assert.Equal(t, 3.0, c.Thresholds.MaxHeight)
}

func TestSetOffline(t *testing.T) {
	s := newSession(t, tankConfig(), fetchFunc(nil), DefaultOptions())

	g := s.Snapshot().Generation
	s.SetOffline(true)
	s.SetOffline(true)
	assert.True(t, s.Overview().Offline)
	assert.Equal(t, g+1, s.Snapshot().Generation)

	s.SetOffline(false)
	assert.False(t, s.Overview().Offline)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: got 404", api.ErrNetwork), KindNetwork},
		{fmt.Errorf("wrapped: %w", gviz.ErrFormat), KindFormat},
		{gviz.ErrParse, KindParse},
		{ErrNoData, KindNoData},
		{config.ErrConfig, KindConfig},
		{errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}

func TestNewRejectsBadLayout(t *testing.T) {
	date := 7
	cfg := tankConfig()
	cfg.Limit = 5
	cfg.Columns.Date = &date

	_, err := New(cfg, fetchFunc(nil), DefaultOptions(), quietLogger())
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestNewRejectsNegativeLayout(t *testing.T) {
	for _, col := range []string{"date", "time"} {
		t.Run(col, func(t *testing.T) {
			neg := -1
			cfg := tankConfig()
			cfg.Limit = 5
			if col == "date" {
				cfg.Columns.Date = &neg
			} else {
				cfg.Columns.Time = &neg
			}

			assert.NotPanics(t, func() {
				_, err := New(cfg, fetchFunc(nil), DefaultOptions(), quietLogger())
				assert.ErrorIs(t, err, config.ErrConfig)
			})
		})
	}
}
