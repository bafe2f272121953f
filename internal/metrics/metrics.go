// Package metrics exposes dispatch counters on a Prometheus registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the dispatch engine's counters. A nil *Metrics is valid and
// records nothing, so callers do not need to guard every increment.
type Metrics struct {
	ridesCreated    prometheus.Counter
	ridesAccepted   prometheus.Counter
	ridesCompleted  prometheus.Counter
	ridesCancelled  prometheus.Counter
	acceptConflicts prometheus.Counter
	rateLimited     prometheus.Counter
	wsConnections   prometheus.Gauge
}

// New registers the dispatch collectors on reg. If reg is nil the default
// registerer is used; already-registered collectors are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&m.ridesCreated, "dispatch_rides_created_total", "Rides created"},
		{&m.ridesAccepted, "dispatch_rides_accepted_total", "Rides accepted by a driver"},
		{&m.ridesCompleted, "dispatch_rides_completed_total", "Rides completed"},
		{&m.ridesCancelled, "dispatch_rides_cancelled_total", "Rides cancelled"},
		{&m.acceptConflicts, "dispatch_accept_conflicts_total", "Accept attempts that lost the race"},
		{&m.rateLimited, "dispatch_rate_limited_total", "Requests denied by admission control"},
	}
	for _, c := range counters {
		counter := prometheus.NewCounter(prometheus.CounterOpts{Name: c.name, Help: c.help})
		if err := reg.Register(counter); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				counter = are.ExistingCollector.(prometheus.Counter)
			} else {
				return nil, err
			}
		}
		*c.dst = counter
	}

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_ws_connections",
		Help: "Currently open realtime connections",
	})
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			gauge = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	m.wsConnections = gauge

	return m, nil
}

func (m *Metrics) RideCreated() {
	if m != nil {
		m.ridesCreated.Inc()
	}
}

func (m *Metrics) RideAccepted() {
	if m != nil {
		m.ridesAccepted.Inc()
	}
}

func (m *Metrics) RideCompleted() {
	if m != nil {
		m.ridesCompleted.Inc()
	}
}

func (m *Metrics) RideCancelled() {
	if m != nil {
		m.ridesCancelled.Inc()
	}
}

func (m *Metrics) AcceptConflict() {
	if m != nil {
		m.acceptConflicts.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.wsConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.wsConnections.Dec()
	}
}
