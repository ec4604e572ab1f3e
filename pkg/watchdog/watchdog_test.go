package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftwareExpires(t *testing.T) {
	fired := make(chan struct{})
	wd := NewSoftware(func() { close(fired) })
	require.NoError(t, wd.Arm(20*time.Millisecond))
	defer wd.Close()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
}

func TestSoftwarePetKeepsAlive(t *testing.T) {
	var fired atomic.Bool
	wd := NewSoftware(func() { fired.Store(true) })
	require.NoError(t, wd.Arm(100*time.Millisecond))
	defer wd.Close()

	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, wd.Pet())
	}
	assert.False(t, fired.Load())
}

func TestSoftwareCloseStops(t *testing.T) {
	var fired atomic.Bool
	wd := NewSoftware(func() { fired.Store(true) })
	require.NoError(t, wd.Arm(20*time.Millisecond))
	require.NoError(t, wd.Close())
	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.True(t, errors.Is(wd.Pet(), ErrNotArmed))
}

func TestSoftwarePetBeforeArm(t *testing.T) {
	wd := NewSoftware(func() {})
	assert.True(t, errors.Is(wd.Pet(), ErrNotArmed))
	assert.Error(t, wd.Arm(0))
}

func TestDevicePetBeforeArm(t *testing.T) {
	d := NewDevice("/nonexistent/watchdog")
	assert.True(t, errors.Is(d.Pet(), ErrNotArmed))
	assert.Error(t, d.Arm(10*time.Second))
	assert.NoError(t, d.Close())
}

func TestNop(t *testing.T) {
	var wd Watchdog = Nop{}
	assert.NoError(t, wd.Arm(time.Second))
	assert.NoError(t, wd.Pet())
	assert.NoError(t, wd.Close())
}
