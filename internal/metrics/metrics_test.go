package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_RegistersAndCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.TasksProduced.Add(3)
	m.TasksSkipped.Inc()
	m.ActiveInfluencers.Set(42)
	m.BatchesFailed.Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TasksProduced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksSkipped))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ActiveInfluencers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesFailed))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry)

	assert.Panics(t, func() {
		New(registry)
	})
}
