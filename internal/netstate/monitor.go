// Package netstate tracks whether the upstream feeds are reachable.
//
// A Monitor runs a probe on a fixed interval and reports transitions between
// online and offline to its subscribers. The polling loop uses it to suspend
// fetches while offline and to run one extra cycle as soon as the network
// comes back.
package netstate

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Probe reports nil when the network is usable.
type Probe func(ctx context.Context) error

// DialProbe opens and closes a TCP connection to address.
func DialProbe(address string, timeout time.Duration) Probe {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("probe %s: %w", address, err)
		}
		return conn.Close()
	}
}

// Status is the current connectivity indicator.
type Status struct {
	Online    bool      `json:"online"`
	Since     time.Time `json:"since"`
	LastError string    `json:"lastError,omitempty"`
}

var onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "tankwatch_network_online",
	Help: "1 when the feed network probe succeeds, 0 otherwise.",
})

// Collectors returns the metrics owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{onlineGauge}
}

// Monitor holds the connectivity state. The zero state is online.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *logrus.Entry

	mu        sync.RWMutex
	status    Status
	listeners []func(online bool)
}

// NewMonitor creates a monitor that runs probe every interval.
func NewMonitor(probe Probe, interval time.Duration, logger *logrus.Entry) *Monitor {
	onlineGauge.Set(1)
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
		status:   Status{Online: true, Since: time.Now()},
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Online
}

// Status returns a copy of the current indicator.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// OnChange registers fn to be called after every transition. Listeners run on
// the probing goroutine, in registration order.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Check runs the probe once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.probe(ctx)
	if ctx.Err() != nil {
		// Shutting down; a canceled probe says nothing about the network.
		return m.Online()
	}
	m.Set(err == nil, err)
	return err == nil
}

// Set records a state observed outside the probe loop.
func (m *Monitor) Set(online bool, cause error) {
	m.mu.Lock()
	changed := m.status.Online != online
	if changed {
		m.status.Online = online
		m.status.Since = time.Now()
	}
	m.status.LastError = ""
	if cause != nil {
		m.status.LastError = cause.Error()
	}
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		onlineGauge.Set(1)
		m.logger.Info("Network connectivity restored")
	} else {
		onlineGauge.Set(0)
		m.logger.WithError(cause).Warn("Network connectivity lost")
	}
	for _, fn := range listeners {
		fn(online)
	}
}

// Run probes until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
