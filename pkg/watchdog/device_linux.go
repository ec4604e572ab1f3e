//go:build linux

package watchdog

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Device drives a kernel watchdog such as /dev/watchdog. Opening the device
// starts the hardware countdown.
type Device struct {
	mu   sync.Mutex
	path string
	f    *os.File
	log  *log.Entry
}

func NewDevice(path string) *Device {
	if path == "" {
		path = "/dev/watchdog"
	}
	return &Device{path: path, log: log.WithField("component", "watchdog")}
}

func (d *Device) Arm(timeout time.Duration) error {
	secs := int(timeout / time.Second)
	if secs < 1 {
		return errors.Errorf("hardware watchdog timeout %s below one second", timeout)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		f, err := os.OpenFile(d.path, os.O_WRONLY, 0)
		if err != nil {
			return errors.Wrapf(err, "open %s", d.path)
		}
		d.f = f
	}
	if err := unix.IoctlSetPointerInt(int(d.f.Fd()), unix.WDIOC_SETTIMEOUT, secs); err != nil {
		return errors.Wrap(err, "set watchdog timeout")
	}
	d.log.WithFields(log.Fields{"device": d.path, "timeout": timeout}).Info("hardware watchdog armed")
	return nil
}

func (d *Device) Pet() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ErrNotArmed
	}
	if _, err := d.f.Write([]byte{0}); err != nil {
		return errors.Wrap(err, "keepalive")
	}
	return nil
}

// Close disarms the watchdog with the magic close character.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	_, werr := d.f.Write([]byte("V"))
	cerr := d.f.Close()
	d.f = nil
	if werr != nil {
		return errors.Wrap(werr, "magic close")
	}
	return cerr
}
