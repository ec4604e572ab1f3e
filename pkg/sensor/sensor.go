// Package sensor holds the sensor catalog and aggregates one read cycle
// across all channels into a Reading.
package sensor

import (
	"context"
	"time"

	"github.com/ericogr/envnode/pkg/adc"
	"github.com/ericogr/envnode/pkg/calibration"
)

// Kind identifies one of the node's fixed sensors.
type Kind int

const (
	Temperature Kind = iota
	Conductivity
	Flow
	numKinds
)

// Kinds lists every sensor in read order.
var Kinds = [numKinds]Kind{Temperature, Conductivity, Flow}

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case Conductivity:
		return "conductivity"
	case Flow:
		return "flow"
	default:
		return "unknown"
	}
}

func (k Kind) Unit() string {
	switch k {
	case Temperature:
		return "°C"
	case Conductivity:
		return "%"
	case Flow:
		return "L/min"
	default:
		return ""
	}
}

// ParseKind maps a sensor name to its Kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Definition describes where a sensor is wired and how its voltage converts.
// Definitions are built once and never mutated.
type Definition struct {
	Kind     Kind
	Channel  adc.Channel
	Params   calibration.Params
	Strategy calibration.Strategy
	convert  calibration.Func
}

// Convert maps v to physical units.
func (d Definition) Convert(v float64) float64 {
	f := d.convert
	if f == nil {
		f = calibration.Linear
	}
	return d.Params.Apply(f, v)
}

// Reading is one acquisition cycle. A field holds calibration.ReadError when
// its measurement failed.
type Reading struct {
	ID           string            `json:"id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Temperature  float64           `json:"temperature"`
	Conductivity float64           `json:"conductivity"`
	Flow         float64           `json:"flow"`
	Voltages     [numKinds]float64 `json:"-"`
}

// Reset clears r for a new cycle.
func (r *Reading) Reset(id string, ts time.Time) {
	*r = Reading{ID: id, Timestamp: ts}
}

// Fail marks every field as a read error.
func (r *Reading) Fail() {
	for _, k := range Kinds {
		r.Set(k, calibration.ReadError)
		r.Voltages[k] = calibration.ReadError
	}
}

func (r *Reading) Set(k Kind, v float64) {
	switch k {
	case Temperature:
		r.Temperature = v
	case Conductivity:
		r.Conductivity = v
	case Flow:
		r.Flow = v
	}
}

func (r *Reading) Get(k Kind) float64 {
	switch k {
	case Temperature:
		return r.Temperature
	case Conductivity:
		return r.Conductivity
	case Flow:
		return r.Flow
	default:
		return calibration.ReadError
	}
}

// Voltage returns the measured input voltage behind field k.
func (r *Reading) Voltage(k Kind) float64 {
	if k < 0 || k >= numKinds {
		return calibration.ReadError
	}
	return r.Voltages[k]
}

// Valid reports whether no field holds a read error.
func (r *Reading) Valid() bool {
	for _, k := range Kinds {
		if r.Get(k) == calibration.ReadError {
			return false
		}
	}
	return true
}

// ADC is what the manager needs from the converter driver.
type ADC interface {
	Init(ctx context.Context) error
	IsConnected(ctx context.Context) bool
	ReadVoltage(ctx context.Context, ch adc.Channel) (float64, error)
}
