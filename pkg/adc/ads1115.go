// Package adc drives an ADS1115 analog-to-digital converter over an injected
// bus. Presence checking is kept apart from initialization and reads so loss
// of the device after boot can be detected by callers.
package adc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"
)

const (
	DefaultAddress = 0x48
	DefaultSpeed   = 400 * physic.KiloHertz
	DefaultTimeout = 50 * time.Millisecond
)

var (
	ErrHardwareAbsent = errors.New("adc not found on bus")
	ErrNotInitialized = errors.New("adc not initialized")
	ErrInvalidParam   = errors.New("invalid parameter")
)

type Options struct {
	Address uint16
	// Gain defaults to PGA4096 (+/-4.096V).
	Gain     Gain
	DataRate DataRate
	Speed    physic.Frequency
	// Timeout bounds every bus transaction, including the presence probe.
	Timeout time.Duration
	Logger  *log.Entry
}

// Device is the converter state: address, gain, data rate and whether Init
// has succeeded. Init is the only writer of the initialized flag.
type Device struct {
	mu          sync.Mutex
	bus         Bus
	addr        uint16
	gain        Gain
	rate        DataRate
	speed       physic.Frequency
	timeout     time.Duration
	initialized bool
	log         *log.Entry
}

func New(bus Bus, opts Options) *Device {
	if opts.Address == 0 {
		opts.Address = DefaultAddress
	}
	if opts.Gain == 0 {
		opts.Gain = PGA4096
	}
	if opts.DataRate == 0 {
		opts.DataRate = 128
	}
	if opts.Speed == 0 {
		opts.Speed = DefaultSpeed
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "adc")
	}
	return &Device{
		bus:     bus,
		addr:    opts.Address,
		gain:    opts.Gain,
		rate:    opts.DataRate,
		speed:   opts.Speed,
		timeout: opts.Timeout,
		log:     opts.Logger,
	}
}

// IsConnected probes the device with a one-byte read. It does not touch the
// driver state and may be called before Init.
func (d *Device) IsConnected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.bus.Probe(ctx, d.addr) == nil
}

// Initialized reports whether Init has succeeded.
func (d *Device) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Init configures the transport, verifies the device answers and programs
// gain and data rate. Once it has succeeded further calls return nil without
// bus traffic.
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}

	if tc, ok := d.bus.(TransportConfigurer); ok {
		if err := tc.ConfigureTransport(d.speed); err != nil {
			return errors.Wrap(err, "configure transport")
		}
	}

	if !d.IsConnected(ctx) {
		d.log.Errorf("ADS1115 not found at 0x%02x", d.addr)
		return errors.Wrapf(ErrHardwareAbsent, "address 0x%02x", d.addr)
	}

	msb, lsb, err := configWord(A0, d.gain, d.rate, false)
	if err != nil {
		return errors.Wrap(err, "build config")
	}
	if err := d.writeRegister(ctx, pointerConfig, msb, lsb); err != nil {
		return errors.Wrap(err, "write config")
	}

	d.initialized = true
	d.log.WithFields(log.Fields{
		"address":    d.addr,
		"full_scale": d.gain.FullScale(),
		"sps":        int(d.rate),
	}).Info("ADS1115 initialized")
	return nil
}

// ReadVoltage runs a single-shot conversion on ch and returns volts. It does
// not retry and does not check presence; callers probe before a batch.
func (d *Device) ReadVoltage(ctx context.Context, ch Channel) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return 0, ErrNotInitialized
	}

	msb, lsb, err := configWord(ch, d.gain, d.rate, true)
	if err != nil {
		return 0, err
	}
	if err := d.writeRegister(ctx, pointerConfig, msb, lsb); err != nil {
		return 0, errors.Wrap(err, "write config")
	}

	// wait for conversion
	t := time.NewTimer(d.rate.conversionTime())
	select {
	case <-ctx.Done():
		t.Stop()
		return 0, ctx.Err()
	case <-t.C:
	}

	readBuf := make([]byte, 2)
	rctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.bus.ReadRegister(rctx, d.addr, pointerConv, readBuf); err != nil {
		return 0, errors.Wrap(err, "read conv")
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return rawToVolts(raw, d.gain), nil
}

func (d *Device) writeRegister(ctx context.Context, reg, msb, lsb byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.bus.WriteRegister(ctx, d.addr, reg, []byte{msb, lsb})
}
