package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/envnode/pkg/calibration"
	"github.com/ericogr/envnode/pkg/sensor"
)

func TestObserveReading(t *testing.T) {
	c := New()
	r := sensor.Reading{Temperature: 21.5, Conductivity: 40, Flow: 3}
	r.Voltages = [3]float64{0.7, 1.3, 0.33}
	c.ObserveReading(r)

	assert.Equal(t, 21.5, testutil.ToFloat64(c.values.WithLabelValues("temperature", "°C")))
	assert.Equal(t, 0.33, testutil.ToFloat64(c.voltages.WithLabelValues("flow")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.values))

	r.Flow = calibration.ReadError
	r.Voltages[sensor.Flow] = calibration.ReadError
	c.ObserveReading(r)
	assert.Equal(t, 2, testutil.CollectAndCount(c.values))
	assert.Equal(t, 2, testutil.CollectAndCount(c.voltages))
}

func TestCyclesAndState(t *testing.T) {
	c := New()
	c.Cycle(ResultOK)
	c.Cycle(ResultOK)
	c.Cycle(ResultReadFailed)
	c.SetState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues(ResultReadFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.state))
}

func TestHandler(t *testing.T) {
	c := New()
	c.Cycle(ResultDispatchFailed)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `envnode_cycles_total{result="dispatch_failed"} 1`)
}
