package adc

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// SimBus emulates an ADS1115 register file. Channels without a pinned
// voltage return a random value inside the configured full scale.
type SimBus struct {
	mu       sync.Mutex
	addr     uint16
	present  bool
	config   uint16
	voltages map[Channel]float64
	writes   map[byte]int
	probes   int
	speed    physic.Frequency
	rnd      *rand.Rand
}

func NewSimBus(addr uint16, seed int64) *SimBus {
	return &SimBus{
		addr:     addr,
		present:  true,
		config:   0x8583, // power-on default
		voltages: make(map[Channel]float64),
		writes:   make(map[byte]int),
		rnd:      rand.New(rand.NewSource(seed)),
	}
}

// SetPresent makes the device answer or stop answering.
func (s *SimBus) SetPresent(present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = present
}

// SetVoltage pins the input voltage of ch.
func (s *SimBus) SetVoltage(ch Channel, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voltages[ch] = v
}

// Writes returns how many times reg was written.
func (s *SimBus) Writes(reg byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[reg]
}

func (s *SimBus) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// Speed returns the last configured bus clock.
func (s *SimBus) Speed() physic.Frequency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

func (s *SimBus) ConfigureTransport(speed physic.Frequency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = speed
	return nil
}

func (s *SimBus) Probe(ctx context.Context, addr uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return s.ack(ctx, addr)
}

func (s *SimBus) WriteRegister(ctx context.Context, addr uint16, reg byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ack(ctx, addr); err != nil {
		return err
	}
	s.writes[reg]++
	if reg == pointerConfig && len(data) == 2 {
		s.config = uint16(data[0])<<8 | uint16(data[1])
	}
	return nil
}

func (s *SimBus) ReadRegister(ctx context.Context, addr uint16, reg byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ack(ctx, addr); err != nil {
		return err
	}
	if len(data) < 2 {
		return errors.New("short read buffer")
	}
	var word uint16
	switch reg {
	case pointerConfig:
		word = s.config
	case pointerConv:
		word = uint16(s.sample())
	default:
		return errors.Errorf("unknown register 0x%02x", reg)
	}
	data[0], data[1] = byte(word>>8), byte(word)
	return nil
}

func (s *SimBus) ack(ctx context.Context, addr uint16) error {
	if ctx.Err() != nil {
		return ErrBusTimeout
	}
	if !s.present || addr != s.addr {
		return ErrNoAck
	}
	return nil
}

func (s *SimBus) sample() int16 {
	ch, gain := decodeConfig(s.config)
	fs := gain.FullScale()
	v, ok := s.voltages[ch]
	if !ok {
		v = s.rnd.Float64() * fs
	}
	code := v / fs * 32768.0
	switch {
	case code > 32767:
		code = 32767
	case code < -32768:
		code = -32768
	}
	return int16(code)
}
