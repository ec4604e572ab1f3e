package sensor

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/envnode/pkg/calibration"
)

var (
	ErrNilReading       = errors.New("nil reading")
	ErrConnectivityLost = errors.New("lost communication with adc")
)

// Manager reads every catalog sensor through one ADC.
type Manager struct {
	adc     ADC
	catalog []Definition
	log     *log.Entry
}

func NewManager(a ADC, catalog []Definition, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.WithField("component", "sensors")
	}
	return &Manager{adc: a, catalog: catalog, log: logger}
}

// Catalog returns a copy of the sensor definitions in read order.
func (m *Manager) Catalog() []Definition {
	out := make([]Definition, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// Init brings up the converter. A failure is fatal for the node and is not
// retried here.
func (m *Manager) Init(ctx context.Context) error {
	m.log.Info("initializing sensors")
	if err := m.adc.Init(ctx); err != nil {
		m.log.WithError(err).Error("adc init failed, check the hardware")
		return errors.Wrap(err, "adc init")
	}
	m.log.Info("sensors initialized")
	return nil
}

// ReadAll fills out with one converted value per sensor. When the ADC does not
// answer the probe every field is set to calibration.ReadError and
// ErrConnectivityLost is returned. A failed channel read or an impossible
// voltage only affects its own field.
//
// The probe is a point-in-time check; a disconnect during the channel reads
// shows up as per-field read errors. A cancelled ctx returns ctx.Err() with
// every field failed.
func (m *Manager) ReadAll(ctx context.Context, out *Reading) error {
	if out == nil {
		m.log.Error("nil reading")
		return ErrNilReading
	}

	if !m.adc.IsConnected(ctx) {
		out.Fail()
		if err := ctx.Err(); err != nil {
			return err
		}
		m.log.Error("lost communication with adc")
		return ErrConnectivityLost
	}

	for _, d := range m.catalog {
		v, err := m.adc.ReadVoltage(ctx, d.Channel)
		if err != nil {
			if ctx.Err() != nil {
				out.Fail()
				return ctx.Err()
			}
			m.log.WithError(err).WithField("sensor", d.Kind.String()).Warn("channel read failed")
			out.Voltages[d.Kind] = calibration.ReadError
			out.Set(d.Kind, calibration.ReadError)
			continue
		}
		out.Voltages[d.Kind] = v
		out.Set(d.Kind, d.Convert(v))
	}

	m.log.Info(m.summary(out))
	return nil
}

func (m *Manager) summary(r *Reading) string {
	parts := make([]string, 0, len(m.catalog))
	for _, d := range m.catalog {
		parts = append(parts, fmt.Sprintf("%s: %.2f %s (%.5f V)", d.Kind, r.Get(d.Kind), d.Kind.Unit(), r.Voltage(d.Kind)))
	}
	return strings.Join(parts, " | ")
}
