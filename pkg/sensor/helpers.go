package sensor

import (
	"github.com/pkg/errors"

	"github.com/ericogr/envnode/pkg/adc"
	"github.com/ericogr/envnode/pkg/calibration"
	"github.com/ericogr/envnode/pkg/config"
)

// DefaultCatalog returns the factory wiring: temperature on A0, conductivity
// on A1 and flow on A2, all linear over 0..3.3V.
func DefaultCatalog() []Definition {
	return []Definition{
		{Kind: Temperature, Channel: adc.A0, Strategy: calibration.StrategyLinear, convert: calibration.Linear,
			Params: calibration.Params{FullScaleVoltage: 3.3, FullScaleValue: 100, ZeroScaleValue: 0}},
		{Kind: Conductivity, Channel: adc.A1, Strategy: calibration.StrategyLinear, convert: calibration.Linear,
			Params: calibration.Params{FullScaleVoltage: 3.3, FullScaleValue: 100, ZeroScaleValue: 0}},
		{Kind: Flow, Channel: adc.A2, Strategy: calibration.StrategyLinear, convert: calibration.Linear,
			Params: calibration.Params{FullScaleVoltage: 3.3, FullScaleValue: 30, ZeroScaleValue: 0}},
	}
}

// BuildCatalog applies per-sensor overrides from the config to the default
// catalog. The result keeps the fixed read order.
func BuildCatalog(cfg config.Config) ([]Definition, error) {
	catalog := DefaultCatalog()
	seen := make(map[Kind]bool)
	for _, sc := range cfg.Sensors {
		k, ok := ParseKind(sc.Name)
		if !ok {
			return nil, errors.Errorf("unknown sensor %q", sc.Name)
		}
		if seen[k] {
			return nil, errors.Errorf("sensor %q configured twice", sc.Name)
		}
		seen[k] = true
		if err := sc.Calibration.Validate(); err != nil {
			return nil, errors.Wrapf(err, "sensor %s", sc.Name)
		}
		f, err := calibration.Lookup(calibration.Strategy(sc.Strategy))
		if err != nil {
			return nil, errors.Wrapf(err, "sensor %s", sc.Name)
		}
		if sc.Channel < int(adc.A0) || sc.Channel > int(adc.A3) {
			return nil, errors.Errorf("sensor %s: invalid channel %d", sc.Name, sc.Channel)
		}
		d := &catalog[k]
		d.Channel = adc.Channel(sc.Channel)
		d.Params = sc.Calibration
		d.Strategy = calibration.Strategy(sc.Strategy)
		if d.Strategy == "" {
			d.Strategy = calibration.StrategyLinear
		}
		d.convert = f
	}

	channels := make(map[adc.Channel]Kind)
	for _, d := range catalog {
		if other, ok := channels[d.Channel]; ok {
			return nil, errors.Errorf("sensors %s and %s share channel %d", other, d.Kind, int(d.Channel))
		}
		channels[d.Channel] = d.Kind
	}
	return catalog, nil
}
