// Package calibration maps measured voltages to physical units.
package calibration

import (
	"math"

	"github.com/pkg/errors"
)

// ReadError marks a field whose measurement failed. It is outside the domain
// of every configured sensor.
const ReadError = -999.0

// Func converts a voltage with the given calibration parameters.
type Func func(v, fullScaleV, fullScaleValue, zeroValue float64) float64

// Strategy names a conversion function.
type Strategy string

const (
	StrategyLinear Strategy = "linear"
)

var strategies = map[Strategy]Func{
	StrategyLinear: Linear,
}

// Lookup returns the conversion function for s. An empty strategy selects
// linear interpolation.
func Lookup(s Strategy) (Func, error) {
	if s == "" {
		s = StrategyLinear
	}
	f, ok := strategies[s]
	if !ok {
		return nil, errors.Errorf("unknown calibration strategy %q", s)
	}
	return f, nil
}

// Linear interpolates v between the zero point and the full-scale point.
// Negative voltages yield ReadError; a zero full-scale voltage collapses to
// the zero point.
func Linear(v, fullScaleV, fullScaleValue, zeroValue float64) float64 {
	if v < 0 {
		return ReadError
	}
	if fullScaleV == 0 {
		return zeroValue
	}
	return zeroValue + v*(fullScaleValue-zeroValue)/fullScaleV
}

// Params holds the three calibration points of an analog sensor.
type Params struct {
	FullScaleVoltage float64 `json:"full_scale_voltage" yaml:"full_scale_voltage"`
	FullScaleValue   float64 `json:"full_scale_value" yaml:"full_scale_value"`
	ZeroScaleValue   float64 `json:"zero_scale_value" yaml:"zero_scale_value"`
}

func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"full_scale_voltage": p.FullScaleVoltage,
		"full_scale_value":   p.FullScaleValue,
		"zero_scale_value":   p.ZeroScaleValue,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("%s must be finite", name)
		}
	}
	if p.FullScaleVoltage < 0 {
		return errors.New("full_scale_voltage must be >= 0")
	}
	return nil
}

// Apply runs f over v with p.
func (p Params) Apply(f Func, v float64) float64 {
	return f(v, p.FullScaleVoltage, p.FullScaleValue, p.ZeroScaleValue)
}
