package adc

import (
	"time"

	"github.com/pkg/errors"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01
)

// Channel is a single-ended multiplexer input (A0..A3).
type Channel int

const (
	A0 Channel = iota
	A1
	A2
	A3
)

func (c Channel) mux() (byte, error) {
	switch c {
	case A0:
		return 0x4, nil
	case A1:
		return 0x5, nil
	case A2:
		return 0x6, nil
	case A3:
		return 0x7, nil
	default:
		return 0, errors.Wrapf(ErrInvalidParam, "invalid channel %d", int(c))
	}
}

// Gain is the programmable-gain amplifier setting. The zero value is unset
// and selects PGA4096 in New.
type Gain byte

const (
	PGA6144 Gain = iota + 1
	PGA4096
	PGA2048
	PGA1024
	PGA512
	PGA256
)

var fullScales = [...]float64{6.144, 4.096, 2.048, 1.024, 0.512, 0.256}

// FullScale returns the input range in volts.
func (g Gain) FullScale() float64 {
	return fullScales[g.bits()]
}

// bits is the PGA field of the config register.
func (g Gain) bits() byte {
	switch {
	case g == 0:
		g = PGA4096
	case g > PGA256:
		g = PGA256
	}
	return byte(g - 1)
}

// GainForFullScale maps a full-scale voltage (e.g. 4.096) to its PGA setting.
func GainForFullScale(v float64) (Gain, error) {
	for i, fs := range fullScales {
		if fs == v {
			return Gain(i + 1), nil
		}
	}
	return 0, errors.Errorf("unsupported full scale %.3fV", v)
}

// DataRate is the conversion rate in samples per second.
type DataRate int

func (r DataRate) bits() (byte, error) {
	switch r {
	case 8:
		return 0x0, nil
	case 16:
		return 0x1, nil
	case 32:
		return 0x2, nil
	case 64:
		return 0x3, nil
	case 128:
		return 0x4, nil
	case 250:
		return 0x5, nil
	case 475:
		return 0x6, nil
	case 860:
		return 0x7, nil
	default:
		return 0, errors.Errorf("unsupported sample rate %d", int(r))
	}
}

// Valid reports whether the converter supports r.
func (r DataRate) Valid() bool {
	_, err := r.bits()
	return err == nil
}

// conversionTime is one sample period plus margin.
func (r DataRate) conversionTime() time.Duration {
	if r <= 0 {
		r = 128
	}
	return time.Duration(int(1000.0/float64(r))+2) * time.Millisecond
}

// configWord encodes the config register. start sets OS to trigger a
// single-shot conversion.
func configWord(ch Channel, gain Gain, rate DataRate, start bool) (byte, byte, error) {
	mux, err := ch.mux()
	if err != nil {
		return 0, 0, err
	}
	dr, err := rate.bits()
	if err != nil {
		return 0, 0, err
	}
	var config uint16
	if start {
		config = 0x8000
	}
	config |= uint16(mux) << 12
	config |= uint16(gain.bits()) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator disabled (bits 1:0 = 11)
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF), nil
}

// decodeConfig extracts mux channel and gain from a config register value.
func decodeConfig(config uint16) (Channel, Gain) {
	mux := byte(config>>12) & 0x7
	return Channel(int(mux) - 4), Gain(byte(config>>9)&0x7 + 1)
}

func rawToVolts(raw int16, gain Gain) float64 {
	return float64(raw) * gain.FullScale() / 32768.0
}
