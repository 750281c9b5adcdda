package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RequestAccepted(150)
	m.RequestAccepted(50)
	m.SkipVote()
	m.Advanced("vote")
	m.Advanced("vote")
	m.Advanced("authority")
	m.Conflict("vote")
	m.Settled("royalty", true)
	m.Settled("royalty", false)
	m.Distributed(975)
	m.Withdrawn(585)
	m.EventPublished("skip_voted")
	m.EventDropped("skip_voted")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.requestAmount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipVotes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.advances.WithLabelValues("vote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.advances.WithLabelValues("authority")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("royalty", "pending")))
	assert.Equal(t, 975.0, testutil.ToFloat64(m.distributed))
	assert.Equal(t, 585.0, testutil.ToFloat64(m.withdrawn))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RequestAccepted(1)
		m.SkipVote()
		m.Advanced("vote")
		m.Conflict("join")
		m.Settled("refund", true)
		m.Distributed(1)
		m.Withdrawn(1)
		m.EventPublished("x")
		m.EventDropped("x")
	})
}

func TestNew_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil).SkipVote()
		New(nil).SkipVote()
	})
}
