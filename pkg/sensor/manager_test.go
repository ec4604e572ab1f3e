package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/envnode/pkg/adc"
	"github.com/ericogr/envnode/pkg/calibration"
)

// stubADC answers the presence probe independently of channel reads.
type stubADC struct {
	connected bool
	initErr   error
	voltages  map[adc.Channel]float64
	readErr   map[adc.Channel]error
	reads     int
}

func (s *stubADC) Init(ctx context.Context) error { return s.initErr }
func (s *stubADC) IsConnected(ctx context.Context) bool { return s.connected }
func (s *stubADC) ReadVoltage(ctx context.Context, ch adc.Channel) (float64, error) {
	s.reads++
	if err := s.readErr[ch]; err != nil {
		return 0, err
	}
	return s.voltages[ch], nil
}

func newSimManager(t *testing.T) (*Manager, *adc.SimBus) {
	t.Helper()
	bus := adc.NewSimBus(adc.DefaultAddress, 1)
	dev := adc.New(bus, adc.Options{Gain: adc.PGA4096, DataRate: 860, Timeout: 20 * time.Millisecond})
	m := NewManager(dev, DefaultCatalog(), nil)
	require.NoError(t, m.Init(context.Background()))
	return m, bus
}

func TestReadAll(t *testing.T) {
	m, bus := newSimManager(t)
	bus.SetVoltage(adc.A0, 1.65)
	bus.SetVoltage(adc.A1, 3.3)
	bus.SetVoltage(adc.A2, 0)

	var r Reading
	require.NoError(t, m.ReadAll(context.Background(), &r))
	assert.InDelta(t, 50.0, r.Temperature, 0.1)
	assert.InDelta(t, 100.0, r.Conductivity, 0.1)
	assert.InDelta(t, 0.0, r.Flow, 0.01)
	assert.InDelta(t, 1.65, r.Voltage(Temperature), 0.001)
	assert.True(t, r.Valid())
}

func TestReadAllNilReading(t *testing.T) {
	m, _ := newSimManager(t)
	assert.True(t, errors.Is(m.ReadAll(context.Background(), nil), ErrNilReading))
}

func TestReadAllConnectivityLost(t *testing.T) {
	// channel reads would still succeed; the probe alone decides
	a := &stubADC{connected: false, voltages: map[adc.Channel]float64{adc.A0: 1, adc.A1: 1, adc.A2: 1}}
	m := NewManager(a, DefaultCatalog(), nil)

	r := Reading{Temperature: 21, Conductivity: 40, Flow: 3}
	err := m.ReadAll(context.Background(), &r)
	assert.True(t, errors.Is(err, ErrConnectivityLost))
	assert.Equal(t, calibration.ReadError, r.Temperature)
	assert.Equal(t, calibration.ReadError, r.Conductivity)
	assert.Equal(t, calibration.ReadError, r.Flow)
	assert.Zero(t, a.reads)
	assert.False(t, r.Valid())
}

func TestReadAllSimBusDisconnected(t *testing.T) {
	m, bus := newSimManager(t)
	bus.SetPresent(false)

	var r Reading
	assert.True(t, errors.Is(m.ReadAll(context.Background(), &r), ErrConnectivityLost))
	for _, k := range Kinds {
		assert.Equal(t, calibration.ReadError, r.Get(k), k.String())
	}
}

func TestReadAllCancelledIsNotConnectivityLoss(t *testing.T) {
	m, _ := newSimManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var r Reading
	err := m.ReadAll(ctx, &r)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrConnectivityLost))
	assert.False(t, r.Valid())
}

// cancellingADC cancels the cycle on the first channel read.
type cancellingADC struct {
	stubADC
	cancel context.CancelFunc
}

func (c *cancellingADC) ReadVoltage(ctx context.Context, ch adc.Channel) (float64, error) {
	c.reads++
	c.cancel()
	return 0, ctx.Err()
}

func TestReadAllCancelledMidCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &cancellingADC{stubADC: stubADC{connected: true}, cancel: cancel}
	m := NewManager(a, DefaultCatalog(), nil)

	var r Reading
	err := m.ReadAll(ctx, &r)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, a.reads, "remaining channels are not read")
	assert.Equal(t, calibration.ReadError, r.Flow)
}

func TestReadAllNegativeVoltageIsolated(t *testing.T) {
	a := &stubADC{connected: true, voltages: map[adc.Channel]float64{adc.A0: 1.65, adc.A1: -0.02, adc.A2: 3.3}}
	m := NewManager(a, DefaultCatalog(), nil)

	var r Reading
	require.NoError(t, m.ReadAll(context.Background(), &r))
	assert.InDelta(t, 50.0, r.Temperature, 1e-9)
	assert.Equal(t, calibration.ReadError, r.Conductivity)
	assert.InDelta(t, 30.0, r.Flow, 1e-9)
	assert.Equal(t, 3, a.reads)
}

func TestReadAllChannelErrorIsolated(t *testing.T) {
	a := &stubADC{
		connected: true,
		voltages:  map[adc.Channel]float64{adc.A0: 3.3, adc.A1: 1.65, adc.A2: 1.1},
		readErr:   map[adc.Channel]error{adc.A0: adc.ErrNoAck},
	}
	m := NewManager(a, DefaultCatalog(), nil)

	var r Reading
	require.NoError(t, m.ReadAll(context.Background(), &r))
	assert.Equal(t, calibration.ReadError, r.Temperature)
	assert.Equal(t, calibration.ReadError, r.Voltage(Temperature))
	assert.InDelta(t, 50.0, r.Conductivity, 1e-9)
	assert.InDelta(t, 10.0, r.Flow, 1e-9)
}

func TestInitPropagatesFailure(t *testing.T) {
	m := NewManager(&stubADC{initErr: adc.ErrHardwareAbsent}, DefaultCatalog(), nil)
	err := m.Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, adc.ErrHardwareAbsent))
}

func TestReadingReset(t *testing.T) {
	r := Reading{Temperature: 1, Conductivity: 2, Flow: 3}
	r.Fail()
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	r.Reset("abc", ts)
	assert.Equal(t, Reading{ID: "abc", Timestamp: ts}, r)
}

func TestKinds(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, got)
		assert.NotEmpty(t, k.Unit())
	}
	_, ok := ParseKind("humidity")
	assert.False(t, ok)
}
