// Package monitor probes the target application on a fixed schedule and
// hands failures to the remediation pipeline.
package monitor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"autoheal/models"
	"autoheal/state"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "monitor")

// FailureHandler receives every failed probe
type FailureHandler interface {
	HandleFailure(ctx context.Context, event models.FailureEvent)
}

// Options configures a HealthMonitor
type Options struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Clock    clockwork.Clock
	Client   *http.Client
}

// HealthMonitor runs probe cycles one at a time. The next cycle is armed only
// after the previous probe and any remediation it triggered have returned.
type HealthMonitor struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	client   *http.Client
	state    *state.State
	handler  FailureHandler

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a monitor for opts.URL
func New(opts Options, st *state.State, handler FailureHandler) *HealthMonitor {
	if opts.Interval <= 0 {
		opts.Interval = 120 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	return &HealthMonitor{
		url:      opts.URL,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		client:   opts.Client,
		state:    st,
		handler:  handler,
	}
}

// Start begins the probe schedule with an immediate first cycle. It reports
// false when monitoring was already active.
func (m *HealthMonitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.SetMonitoring(true) {
		return false
	}

	// a cycle left over from before the last Stop must finish first
	previous := m.done
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(ctx, previous, m.stop, m.done)

	logger.WithFields(log.Fields{"target": m.url, "interval": m.interval}).Info("monitoring started")
	return true
}

// Stop prevents further cycles. A cycle in progress runs to completion.
// It reports false when monitoring was not active.
func (m *HealthMonitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.SetMonitoring(false) {
		return false
	}
	close(m.stop)
	logger.Info("monitoring stopped")
	return true
}

// Wait blocks until the schedule goroutine has exited after Stop or
// context cancellation
func (m *HealthMonitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *HealthMonitor) run(ctx context.Context, previous <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if previous != nil {
		select {
		case <-previous:
		case <-stop:
			return
		case <-ctx.Done():
			m.expire(stop)
			return
		}
	}

	for {
		m.cycle(ctx)

		select {
		case <-stop:
			return
		case <-ctx.Done():
			m.expire(stop)
			return
		default:
		}

		timer := m.clock.NewTimer(m.interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			m.expire(stop)
			return
		case <-timer.Chan():
		}
	}
}

// expire clears the monitoring flag when the schedule ends with its context.
// A newer schedule started since then keeps the flag.
func (m *HealthMonitor) expire(stop <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != stop {
		return
	}
	if m.state.SetMonitoring(false) {
		logger.Info("monitoring ended with its context")
	}
}

func (m *HealthMonitor) cycle(ctx context.Context) {
	result := m.ProbeOnce(ctx)
	m.state.SetLastCheck(result)
	if result.Reachable {
		logger.WithField("result", result.Describe()).Debug("probe ok")
		return
	}
	if ctx.Err() != nil {
		return
	}

	logger.WithFields(log.Fields{"target": m.url, "result": result.Describe()}).Warn("target down")
	m.handler.HandleFailure(ctx, models.FailureFromProbe(result, m.url))
}

// ProbeOnce issues a single GET against the target with the probe timeout.
// Only a 200 response counts as reachable.
func (m *HealthMonitor) ProbeOnce(ctx context.Context) models.HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.clock.Now()
	result := models.HealthCheckResult{Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		msg := err.Error()
		result.TransportError = &msg
		return result
	}
	req.Header.Set("User-Agent", "autoheal-monitor")

	resp, err := m.client.Do(req)
	if err != nil {
		msg := transportMessage(err)
		result.TransportError = &msg
		return result
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	latency := m.clock.Now().Sub(start).Milliseconds()
	code := resp.StatusCode
	result.StatusCode = &code
	result.LatencyMs = &latency
	result.Reachable = code == http.StatusOK
	return result
}

func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "timeout"
		}
		return urlErr.Err.Error()
	}
	return err.Error()
}
