//go:build integration
// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/tankwatch/internal/api"
	"github.com/tejusbharadwaj/tankwatch/internal/config"
	"github.com/tejusbharadwaj/tankwatch/internal/netstate"
	"github.com/tejusbharadwaj/tankwatch/internal/scheduler"
	"github.com/tejusbharadwaj/tankwatch/internal/server"
	"github.com/tejusbharadwaj/tankwatch/internal/session"
)

// feedServer imitates the spreadsheet query endpoint. Sheets are selected by
// the sheet query parameter.
type feedServer struct {
	*httptest.Server
	mu      sync.Mutex
	sheets  map[string][]string
	failing atomic.Bool
	hits    atomic.Int32
}

func newFeedServer(t *testing.T) *feedServer {
	f := &feedServer{sheets: map[string][]string{}}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.failing.Load() {
			http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
			return
		}
		f.mu.Lock()
		rows := f.sheets[r.URL.Query().Get("sheet")]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, "/*O_o*/\ngoogle.visualization.Query.setResponse({\"version\":\"0.6\",\"status\":\"ok\",\"table\":{\"cols\":[],\"rows\":[%s]}});",
			strings.Join(rows, ","))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *feedServer) setRows(sheet string, rows ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[sheet] = rows
}

func reading(day, hh, mm int, height float64) string {
	return fmt.Sprintf(`{"c":[{"v":"Date(2024,0,%d)"},{"v":"Date(1899,11,30,%d,%d,0)"},{"v":%g}]}`, day, hh, mm, height)
}

type environment struct {
	feed     *feedServer
	api      *httptest.Server
	sched    *scheduler.Scheduler
	monitor  *netstate.Monitor
	sessions []*session.Session
	probeErr atomic.Value
}

func setupEnvironment(t *testing.T, sourcesDoc func(feedURL string) string) *environment {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	env := &environment{feed: newFeedServer(t)}
	env.probeErr.Store(errNone)

	sources, err := config.ParseSources([]byte(sourcesDoc(env.feed.URL)))
	require.NoError(t, err)

	client := api.NewFeedClient(api.DefaultClientConfig())

	var (
		refreshers []scheduler.Refresher
		views      []server.Source
	)
	for _, src := range sources {
		s, err := session.New(src, client, session.DefaultOptions(), logger)
		require.NoError(t, err)
		env.sessions = append(env.sessions, s)
		refreshers = append(refreshers, s)
		views = append(views, s)
	}

	env.monitor = netstate.NewMonitor(func(ctx context.Context) error {
		if err := env.probeErr.Load().(error); err != errNone {
			return err
		}
		return nil
	}, time.Hour, logger.WithField("component", "netstate"))

	opts := scheduler.DefaultOptions()
	opts.Interval = time.Hour
	opts.Concurrent = true
	env.sched = scheduler.NewScheduler(refreshers, env.monitor, opts, logger)
	env.monitor.OnChange(env.sched.NetworkChanged)

	srv, err := server.New(views, env.monitor, server.DefaultConfig(), logger)
	require.NoError(t, err)
	env.api = httptest.NewServer(srv.Handler())
	t.Cleanup(env.api.Close)

	return env
}

// errNone marks a healthy probe; atomic.Value cannot hold nil.
var errNone = errors.New("none")

func (e *environment) getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.api.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func staticSources(feedURL string) string {
	return fmt.Sprintf(`{
  "tank1": {
    "name": "Tank 1",
    "sheet_url": "%[1]s/gviz/tq",
    "sheet": "Sheet1",
    "max_height": 3,
    "flooded_threshold": 2.5,
    "drought_threshold": 0.5,
    "timezone": "UTC"
  }
}`, feedURL)
}

func TestDashboardE2E(t *testing.T) {
	env := setupEnvironment(t, staticSources)
	env.feed.setRows("Sheet1", reading(15, 10, 0, 2.8))

	require.NoError(t, env.sched.Start(context.Background()))
	defer env.sched.Stop()

	require.Eventually(t, func() bool {
		return !env.sessions[0].Snapshot().LastUpdated.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	var d session.Dashboard
	assert.Equal(t, http.StatusOK, env.getJSON(t, "/api/sources/tank1", &d))
	require.NotNil(t, d.Latest)
	assert.Equal(t, "flooded", string(d.Latest.Status))
	assert.Equal(t, 93.3, d.Latest.Percent)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), d.Latest.Time.UTC())

	assert.Equal(t, http.StatusUnprocessableEntity, env.getJSON(t, "/api/sources/tank1/insights", nil))
}

func TestFeedOutageKeepsData(t *testing.T) {
	env := setupEnvironment(t, staticSources)
	env.feed.setRows("Sheet1", reading(15, 10, 0, 1.0), reading(15, 10, 30, 1.5))

	ctx := context.Background()
	assert.Equal(t, 0, env.sched.RunCycle(ctx))

	env.feed.failing.Store(true)
	assert.Equal(t, 1, env.sched.RunCycle(ctx))

	var d session.Dashboard
	env.getJSON(t, "/api/sources/tank1", &d)
	assert.Equal(t, session.KindNetwork, d.ErrorKind)
	require.NotNil(t, d.Latest)
	assert.Equal(t, 1.5, d.Latest.Height)
	assert.Len(t, d.Table, 2)

	var in session.Insights
	assert.Equal(t, http.StatusOK, env.getJSON(t, "/api/sources/tank1/insights", &in))
	assert.InDelta(t, 1.0, in.RateOfChangePerHour, 1e-9)
	assert.Equal(t, "rising", string(in.Trend))

	env.feed.failing.Store(false)
	assert.Equal(t, 0, env.sched.RunCycle(ctx))
	env.getJSON(t, "/api/sources/tank1", &d)
	assert.Empty(t, d.ErrorKind)
}

func TestDynamicThresholdsE2E(t *testing.T) {
	env := setupEnvironment(t, func(feedURL string) string {
		return fmt.Sprintf(`{
  "tank1": {
    "sheet_url": "%[1]s/gviz/tq",
    "sheet": "Sheet1",
    "settings_url": "%[1]s/gviz/tq",
    "settings_sheet": "Settings",
    "dynamic_thresholds": true,
    "max_height": 3,
    "flooded_threshold": 2.5,
    "drought_threshold": 0.5,
    "timezone": "UTC"
  },
  "tank2": {
    "sheet_url": "%[1]s/gviz/tq",
    "sheet": "Inline",
    "dynamic_thresholds": true,
    "max_height": 3,
    "flooded_threshold": 2.5,
    "drought_threshold": 0.5,
    "timezone": "UTC",
    "columns": {"select": ["A","B","C","J","K","L"], "max_height": 3, "flooded_threshold": 4, "drought_threshold": 5}
  }
}`, feedURL)
	})
	env.feed.setRows("Sheet1", reading(15, 10, 0, 2.8))
	env.feed.setRows("Settings", `{"c":[{"v":4},{"v":3.5},{"v":1}]}`)
	env.feed.setRows("Inline",
		`{"c":[{"v":"Date(2024,0,15)"},{"v":"Date(1899,11,30,9,0,0)"},{"v":1.2},{"v":2},{"v":1.5},{"v":0.4}]}`,
		`{"c":[{"v":"Date(2024,0,15)"},{"v":"Date(1899,11,30,9,5,0)"},{"v":1.3},null,null,null]}`,
	)

	assert.Equal(t, 0, env.sched.RunCycle(context.Background()))

	var overview []session.Overview
	env.getJSON(t, "/api/sources", &overview)
	require.Len(t, overview, 2)
	assert.Equal(t, "normal", string(overview[0].Latest.Status))
	assert.Equal(t, 70.0, overview[0].Latest.Percent)
	assert.Equal(t, 65.0, overview[1].Latest.Percent)

	var c session.Chart
	env.getJSON(t, "/api/sources/tank2/chart", &c)
	assert.Equal(t, 2.0, c.Thresholds.MaxHeight)
	assert.Equal(t, 1.5, c.Thresholds.FloodedThreshold)
}

func TestOfflineReconnectE2E(t *testing.T) {
	env := setupEnvironment(t, staticSources)
	env.feed.setRows("Sheet1", reading(15, 10, 0, 1.0))

	env.probeErr.Store(errors.New("network unreachable"))
	env.monitor.Check(context.Background())
	require.False(t, env.monitor.Online())

	before := env.feed.hits.Load()
	assert.Equal(t, 0, env.sched.RunCycle(context.Background()))
	assert.Equal(t, before, env.feed.hits.Load(), "no fetch while offline")

	var st netstate.Status
	env.getJSON(t, "/api/network", &st)
	assert.False(t, st.Online)

	var d session.Dashboard
	env.getJSON(t, "/api/sources/tank1", &d)
	assert.True(t, d.Offline)

	require.NoError(t, env.sched.Start(context.Background()))
	defer env.sched.Stop()

	env.probeErr.Store(errNone)
	env.monitor.Check(context.Background())

	require.Eventually(t, func() bool {
		return !env.sessions[0].Snapshot().LastUpdated.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, env.sessions[0].Snapshot().Offline)
}
