// Package metrics holds the Prometheus collectors of the jukebox engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jukebox"

// Metrics is the set of engine collectors.
type Metrics struct {
	requests      prometheus.Counter
	requestAmount prometheus.Counter
	skipVotes     prometheus.Counter
	advances      *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	distributed   prometheus.Counter
	withdrawn     prometheus.Counter
	eventsSent    *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_requests_total",
			Help:      "paid track requests accepted",
		}),
		requestAmount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_request_amount_total",
			Help:      "sum of amounts charged for track requests",
		}),
		skipVotes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skip_votes_total",
			Help:      "skip votes recorded",
		}),
		advances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_advances_total",
			Help:      "queue advances by cause",
		}, []string{"cause"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_conflicts_total",
			Help:      "optimistic concurrency conflicts by operation",
		}, []string{"op"}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "settlement runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		distributed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributed_amount_total",
			Help:      "amount paid out by settlements",
		}),
		withdrawn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_amount_total",
			Help:      "amount withdrawn by artists",
		}),
		eventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "notifications delivered by kind",
		}, []string{"kind"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "notifications dropped by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) RequestAccepted(amount uint64) {
	if m == nil {
		return
	}
	m.requests.Inc()
	m.requestAmount.Add(float64(amount))
}

func (m *Metrics) SkipVote() {
	if m == nil {
		return
	}
	m.skipVotes.Inc()
}

// Advanced counts a queue advance; cause is "vote", "authority" or "close".
func (m *Metrics) Advanced(cause string) {
	if m == nil {
		return
	}
	m.advances.WithLabelValues(cause).Inc()
}

func (m *Metrics) Conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

// Settled counts a settlement run by outcome.
func (m *Metrics) Settled(kind string, completed bool) {
	if m == nil {
		return
	}
	outcome := "pending"
	if completed {
		outcome = "completed"
	}
	m.settlements.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Distributed(amount uint64) {
	if m == nil {
		return
	}
	m.distributed.Add(float64(amount))
}

func (m *Metrics) Withdrawn(amount uint64) {
	if m == nil {
		return
	}
	m.withdrawn.Add(float64(amount))
}

func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}
