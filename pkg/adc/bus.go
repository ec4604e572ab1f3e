package adc

import (
	"context"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// Bus errors. Anything else returned by a Bus is a transfer failure.
var (
	ErrBusTimeout = errors.New("bus timeout")
	ErrNoAck      = errors.New("device did not acknowledge")
)

// Bus is the byte-level transaction capability the driver runs on. Every call
// must return within the deadline carried by ctx.
type Bus interface {
	// Probe reads a single byte from addr.
	Probe(ctx context.Context, addr uint16) error
	WriteRegister(ctx context.Context, addr uint16, reg byte, data []byte) error
	ReadRegister(ctx context.Context, addr uint16, reg byte, data []byte) error
}

// TransportConfigurer is implemented by buses whose physical transport can be
// set up by the driver before first use.
type TransportConfigurer interface {
	ConfigureTransport(speed physic.Frequency) error
}
