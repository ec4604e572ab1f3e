// Package watchdog provides reset deadlines that the acquisition loop must
// refresh every cycle.
package watchdog

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrNotArmed = errors.New("watchdog not armed")

// Petter resets the countdown.
type Petter interface {
	Pet() error
}

// Watchdog forces a reset when Pet is not called within the armed timeout.
type Watchdog interface {
	Petter
	Arm(timeout time.Duration) error
	Close() error
}

// Software is a process-level watchdog. On expiry it runs the reset hook,
// which by default terminates the process so the service manager restarts it.
type Software struct {
	mu       sync.Mutex
	timer    *time.Timer
	timeout  time.Duration
	onExpire func()
	log      *log.Entry
}

func NewSoftware(onExpire func()) *Software {
	l := log.WithField("component", "watchdog")
	if onExpire == nil {
		onExpire = func() { l.Fatal("watchdog expired, resetting node") }
	}
	return &Software{onExpire: onExpire, log: l}
}

// Arm starts the countdown. Arming again restarts it with the new timeout.
func (s *Software) Arm(timeout time.Duration) error {
	if timeout <= 0 {
		return errors.Errorf("invalid watchdog timeout %s", timeout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timeout = timeout
	s.timer = time.AfterFunc(timeout, s.expire)
	s.log.WithField("timeout", timeout).Info("software watchdog armed")
	return nil
}

func (s *Software) Pet() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return ErrNotArmed
	}
	s.timer.Reset(s.timeout)
	return nil
}

func (s *Software) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return nil
}

func (s *Software) expire() {
	s.log.Error("watchdog timeout elapsed without pet")
	s.onExpire()
}

// Nop never resets. Used when no watchdog is configured.
type Nop struct{}

func (Nop) Arm(time.Duration) error { return nil }
func (Nop) Pet() error { return nil }
func (Nop) Close() error { return nil }
