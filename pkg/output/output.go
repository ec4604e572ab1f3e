package output

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ericogr/envnode/pkg/sensor"
)

// ErrTransmissionFailed is returned when a reading was not accepted by the
// remote end.
var ErrTransmissionFailed = errors.New("transmission failed")

type Output interface {
	Publish(sensor.Reading) error
	Close() error
}

// Multi publishes every reading to all outputs. A failing output does not
// stop the others; failures are combined.
type Multi []Output

func (m Multi) Publish(r sensor.Reading) error {
	var err error
	for _, o := range m {
		err = multierr.Append(err, o.Publish(r))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, o := range m {
		err = multierr.Append(err, o.Close())
	}
	return err
}

// helper constructors are in subpackages
