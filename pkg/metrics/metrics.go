// Package metrics exposes the node's readings and cycle outcomes to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericogr/envnode/pkg/calibration"
	"github.com/ericogr/envnode/pkg/sensor"
)

// Cycle results.
const (
	ResultOK             = "ok"
	ResultReadFailed     = "read_failed"
	ResultDispatchFailed = "dispatch_failed"
)

type Collector struct {
	registry *prometheus.Registry
	values   *prometheus.GaugeVec
	voltages *prometheus.GaugeVec
	cycles   *prometheus.CounterVec
	state    prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "envnode_sensor_value",
			Help: "Last converted sensor value in physical units",
		}, []string{"sensor", "unit"}),
		voltages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "envnode_sensor_voltage_volts",
			Help: "Last measured sensor input voltage",
		}, []string{"sensor"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envnode_cycles_total",
			Help: "Acquisition cycles by result",
		}, []string{"result"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "envnode_loop_state",
			Help: "Loop state (0 uninitialized, 1 initializing, 2 running, 3 halted)",
		}),
	}
	c.registry.MustRegister(c.values, c.voltages, c.cycles, c.state)
	// Add Go module build info.
	c.registry.MustRegister(collectors.NewBuildInfoCollector())
	return c
}

// ObserveReading publishes each field. Failed fields are removed so scrapes
// show a gap instead of a stale value.
func (c *Collector) ObserveReading(r sensor.Reading) {
	for _, k := range sensor.Kinds {
		if v := r.Get(k); v != calibration.ReadError {
			c.values.WithLabelValues(k.String(), k.Unit()).Set(v)
		} else {
			c.values.DeleteLabelValues(k.String(), k.Unit())
		}
		if v := r.Voltage(k); v != calibration.ReadError {
			c.voltages.WithLabelValues(k.String()).Set(v)
		} else {
			c.voltages.DeleteLabelValues(k.String())
		}
	}
}

func (c *Collector) Cycle(result string) {
	c.cycles.WithLabelValues(result).Inc()
}

func (c *Collector) SetState(state int) {
	c.state.Set(float64(state))
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}
