package adc

import (
	"context"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// PeriphBus is a Bus on a host I2C adapter opened through periph.io.
type PeriphBus struct {
	bus i2c.BusCloser
}

// OpenPeriphBus initializes the host drivers and opens the named bus
// ("1" -> /dev/i2c-1).
func OpenPeriphBus(name string) (*PeriphBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host init")
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "open i2c")
	}
	return &PeriphBus{bus: bus}, nil
}

func (p *PeriphBus) String() string { return p.bus.String() }

// ConfigureTransport sets the bus clock. Pin function and pull-ups are owned
// by the kernel adapter on Linux hosts.
func (p *PeriphBus) ConfigureTransport(speed physic.Frequency) error {
	if err := p.bus.SetSpeed(speed); err != nil {
		return errors.Wrapf(err, "set speed %s", speed)
	}
	return nil
}

func (p *PeriphBus) Probe(ctx context.Context, addr uint16) error {
	var b [1]byte
	return p.tx(ctx, addr, nil, b[:])
}

func (p *PeriphBus) WriteRegister(ctx context.Context, addr uint16, reg byte, data []byte) error {
	w := append([]byte{reg}, data...)
	return p.tx(ctx, addr, w, nil)
}

func (p *PeriphBus) ReadRegister(ctx context.Context, addr uint16, reg byte, data []byte) error {
	return p.tx(ctx, addr, []byte{reg}, data)
}

func (p *PeriphBus) Close() error {
	return p.bus.Close()
}

// tx runs the transaction and gives up when ctx expires. The kernel adapter
// has its own timeout, so an abandoned transfer still completes.
func (p *PeriphBus) tx(ctx context.Context, addr uint16, w, r []byte) error {
	dev := &i2c.Dev{Addr: addr, Bus: p.bus}
	done := make(chan error, 1)
	go func() { done <- dev.Tx(w, r) }()
	select {
	case err := <-done:
		if err != nil {
			return errors.Wrapf(ErrNoAck, "0x%02x: %v", addr, err)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ErrBusTimeout, "0x%02x", addr)
	}
}
