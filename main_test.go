package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ericogr/envnode/pkg/adc"
	"github.com/ericogr/envnode/pkg/config"
	"github.com/ericogr/envnode/pkg/output/console"
	"github.com/ericogr/envnode/pkg/sensor"
)

func TestInitOutputs(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "CONSOLE"}}}
	outs, err := initOutputs(&cfg, sensor.DefaultCatalog())
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("outputs len: %d", len(outs))
	}
	if _, ok := outs[0].(*console.ConsoleOutput); !ok {
		t.Fatalf("output type: %T", outs[0])
	}
}

func TestInitOutputsErrors(t *testing.T) {
	for _, oc := range []config.OutputConfig{
		{Type: "carrier-pigeon"},
		{Type: "http"},
		{Type: "http", HTTP: &config.HTTPConfig{}},
	} {
		cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, oc}}
		if _, err := initOutputs(&cfg, nil); err == nil {
			t.Fatalf("output %+v: expected error", oc)
		}
	}
}

func TestNewWatchdog(t *testing.T) {
	tests := []struct {
		typ  string
		want string
	}{
		{"none", "watchdog.Nop"},
		{"", "watchdog.Nop"},
		{"software", "*watchdog.Software"},
		{"Device", "*watchdog.Device"},
	}
	for _, tt := range tests {
		cfg := config.DefaultConfig()
		cfg.Watchdog.Type = tt.typ
		if got := fmt.Sprintf("%T", newWatchdog(cfg)); got != tt.want {
			t.Fatalf("%q: got %s want %s", tt.typ, got, tt.want)
		}
	}
}

func TestOpenBusSimulation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = "simulation"
	bus, closeBus, err := openBus(cfg)
	if err != nil {
		t.Fatalf("openBus: %v", err)
	}
	defer closeBus()
	if _, ok := bus.(*adc.SimBus); !ok {
		t.Fatalf("bus type: %T", bus)
	}
}

func TestRunSimulation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = "simulation"
	cfg.CycleIntervalMs = 5
	cfg.Watchdog.Type = "none"

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsBadNetwork(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = "simulation"
	cfg.Watchdog.Type = "none"
	cfg.Network.IP = "not-an-ip"

	if err := run(context.Background(), cfg); err == nil {
		t.Fatal("expected network config error")
	}
}
