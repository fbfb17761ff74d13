package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservers(t *testing.T) {
	m := New(func() int64 { return 3 })

	m.ObserveRelay("relayed")
	m.ObserveRelay("relayed")
	m.ObserveRelay("unchanged")
	m.ObserveFanOut("master", 2, 1, 0)
	m.ObserveTransition("OFFLINE")
	m.ObserveQueueDepth(4)
	m.ObserveWrite("ok", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayCycles.WithLabelValues("relayed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fanOutWrites.WithLabelValues("master", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fanOutWrites.WithLabelValues("master", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("OFFLINE")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.eventsDropped))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.ObserveRelay("gate_closed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `copier_relay_cycles_total{outcome="gate_closed"} 1`)
}
