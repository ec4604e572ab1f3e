// Package node runs the acquisition-and-dispatch loop: bring up sensors and
// network once, then pet the watchdog, read, dispatch and wait, forever.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/envnode/pkg/metrics"
	"github.com/ericogr/envnode/pkg/network"
	"github.com/ericogr/envnode/pkg/output"
	"github.com/ericogr/envnode/pkg/sensor"
	"github.com/ericogr/envnode/pkg/watchdog"
)

// ErrHalted is returned when startup failed and the loop will not run.
var ErrHalted = errors.New("node halted")

// haltError matches ErrHalted and unwraps to the startup failure.
type haltError struct {
	cause error
}

func (e *haltError) Error() string { return "node halted: " + e.cause.Error() }
func (e *haltError) Is(target error) bool { return target == ErrHalted }
func (e *haltError) Unwrap() error { return e.cause }

type State int

const (
	Uninitialized State = iota
	Initializing
	Running
	Halted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// Sensors is the acquisition side of the loop.
type Sensors interface {
	Init(ctx context.Context) error
	ReadAll(ctx context.Context, out *sensor.Reading) error
}

type Options struct {
	Sensors  Sensors
	Network  network.Initializer
	NetCfg   network.Config
	Output   output.Output
	Watchdog watchdog.Petter
	Interval time.Duration
	Metrics  *metrics.Collector
	Logger   *log.Entry
	// Now defaults to time.Now.
	Now func() time.Time
}

type Loop struct {
	opts Options
	log  *log.Entry

	mu    sync.Mutex
	state State
	// reading is reused every cycle; only the loop goroutine touches it
	reading sensor.Reading
}

func New(opts Options) *Loop {
	if opts.Network == nil {
		opts.Network = network.Noop{}
	}
	if opts.Watchdog == nil {
		opts.Watchdog = watchdog.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "loop")
	}
	return &Loop{opts: opts, log: opts.Logger}
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	if l.opts.Metrics != nil {
		l.opts.Metrics.SetState(int(s))
	}
}

// Start initializes sensors then the network link. Either failure halts the
// node; nothing is retried.
func (l *Loop) Start(ctx context.Context) error {
	if s := l.State(); s != Uninitialized {
		return errors.Errorf("start in state %s", s)
	}
	l.setState(Initializing)

	if err := l.opts.Sensors.Init(ctx); err != nil {
		l.log.WithError(err).Error("sensor initialization failed, halting")
		l.setState(Halted)
		return &haltError{cause: errors.Wrap(err, "sensors")}
	}
	if err := l.opts.Network.Init(ctx, l.opts.NetCfg); err != nil {
		l.log.WithError(err).Error("network initialization failed, halting")
		l.setState(Halted)
		return &haltError{cause: errors.Wrap(err, "network")}
	}

	l.setState(Running)
	l.log.Infof("starting acquisition cycles every %s", l.opts.Interval)
	return nil
}

// RunCycle runs one cycle. The returned error is informational: it has
// already been logged and never stops the loop.
func (l *Loop) RunCycle(ctx context.Context) error {
	if s := l.State(); s != Running {
		return errors.Errorf("cycle in state %s", s)
	}
	if err := l.opts.Watchdog.Pet(); err != nil {
		l.log.WithError(err).Warn("watchdog pet failed")
	}

	l.reading.Reset(uuid.NewString(), l.opts.Now())
	if err := l.opts.Sensors.ReadAll(ctx, &l.reading); err != nil {
		if ctx.Err() != nil {
			return err
		}
		l.log.WithError(err).Error("sensor read failed, skipping this cycle")
		l.observe(metrics.ResultReadFailed)
		return errors.Wrap(err, "read")
	}

	if err := l.opts.Output.Publish(l.reading); err != nil {
		l.log.WithError(err).Error("dispatch failed")
		l.observe(metrics.ResultDispatchFailed)
		return errors.Wrap(err, "dispatch")
	}
	l.log.WithField("id", l.reading.ID).Debug("reading dispatched")
	l.observe(metrics.ResultOK)
	return nil
}

func (l *Loop) observe(result string) {
	if l.opts.Metrics == nil {
		return
	}
	l.opts.Metrics.Cycle(result)
	if result != metrics.ResultReadFailed {
		l.opts.Metrics.ObserveReading(l.reading)
	}
}

// Run starts the node and cycles until ctx is cancelled. A startup failure
// is returned wrapping ErrHalted; cancellation returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	for {
		_ = l.RunCycle(ctx)

		t := time.NewTimer(l.opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			l.log.Info("acquisition loop stopping")
			return nil
		case <-t.C:
		}
	}
}
