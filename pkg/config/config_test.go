package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyFloatMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]float64
		ok   bool
	}{
		{"", map[string]float64{}, true},
		{"temperature=3.3,flow=5", map[string]float64{"temperature": 3.3, "flow": 5}, true},
		{" temperature = 1 , flow = -0.5", map[string]float64{"temperature": 1.0, "flow": -0.5}, true},
		{"bad", nil, false},
		{"flow=x", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyFloatMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyFloatMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyFloatMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyIntMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]int
		ok   bool
	}{
		{"", map[string]int{}, true},
		{"temperature=0,flow=3", map[string]int{"temperature": 0, "flow": 3}, true},
		{"conductivity=1, flow=2", map[string]int{"conductivity": 1, "flow": 2}, true},
		{"bad", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyIntMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyIntMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyIntMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseIntOrHex(t *testing.T) {
	v, err := parseIntOrHex("0x48")
	require.NoError(t, err)
	assert.Equal(t, 72, v)
	v, err = parseIntOrHex("73")
	require.NoError(t, err)
	assert.Equal(t, 73, v)
	_, err = parseIntOrHex("zz")
	assert.Error(t, err)
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.CycleInterval())
	assert.Equal(t, 30*time.Second, cfg.WatchdogTimeout())
	assert.Equal(t, 50*time.Millisecond, cfg.BusTimeout())
	assert.Len(t, cfg.Sensors, 3)
	assert.Equal(t, "8.8.8.8", cfg.Network.DNS)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sample rate", func(c *Config) { c.SampleRate = 100 }},
		{"full scale", func(c *Config) { c.FullScale = 5 }},
		{"address", func(c *Config) { c.I2C.Address = 0x100 }},
		{"interval", func(c *Config) { c.CycleIntervalMs = 0 }},
		{"sensor type", func(c *Config) { c.SensorType = "virtual" }},
		{"watchdog shorter than cycle", func(c *Config) { c.Watchdog.TimeoutMs = 5000 }},
		{"watchdog without cycle headroom", func(c *Config) { c.Watchdog.TimeoutMs = c.CycleIntervalMs + 1 }},
		{"watchdog without dispatch headroom", func(c *Config) {
			c.Watchdog.TimeoutMs = 12000
			c.Outputs = append(c.Outputs, OutputConfig{Type: "mqtt"})
		}},
		{"watchdog type", func(c *Config) { c.Watchdog.Type = "hardware" }},
		{"halt policy", func(c *Config) { c.HaltPolicy = "retry" }},
		{"calibration", func(c *Config) { c.Sensors[0].Calibration.FullScaleVoltage = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Watchdog = WatchdogConfig{Type: "none"}
	assert.NoError(t, cfg.Validate())
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"-i2c-bus", "2",
		"-i2c-address", "0x49",
		"-sensor-type", "simulation",
		"-cycle-interval-ms", "1000",
		"-watchdog-timeout-ms", "15000",
		"-full-scale-voltage", "flow=5",
		"-zero-scale-value", "temperature=-10",
		"-sensor-channels", "flow=3",
		"-outputs", "console,mqtt",
		"-mqtt-server", "tcp://broker:1883",
		"-mqtt-topic", "node/state",
		"-http-url", "http://collector/readings",
	})
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.I2C.Bus)
	assert.Equal(t, 0x49, cfg.I2C.Address)
	assert.Equal(t, "simulation", cfg.SensorType)
	assert.Equal(t, time.Second, cfg.CycleInterval())
	assert.Equal(t, 15*time.Second, cfg.WatchdogTimeout())
	assert.Equal(t, 5.0, cfg.Sensors[2].Calibration.FullScaleVoltage)
	assert.Equal(t, 3, cfg.Sensors[2].Channel)
	assert.Equal(t, -10.0, cfg.Sensors[0].Calibration.ZeroScaleValue)

	require.Len(t, cfg.Outputs, 3)
	assert.Equal(t, "console", cfg.Outputs[0].Type)
	require.NotNil(t, cfg.Outputs[1].MQTT)
	assert.Equal(t, "tcp://broker:1883", cfg.Outputs[1].MQTT.Server)
	assert.Equal(t, "node/state", cfg.Outputs[1].MQTT.StateTopic)
	assert.Equal(t, "http", cfg.Outputs[2].Type)
	assert.Equal(t, "http://collector/readings", cfg.Outputs[2].HTTP.URL)
}

func TestLoadFlagsInvalid(t *testing.T) {
	_, err := Load([]string{"-sample-rate", "7"})
	assert.Error(t, err)
	_, err = Load([]string{"-full-scale-value", "flow"})
	assert.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	content := `
i2c:
  bus: "3"
  address: 72
sample_rate: 250
full_scale: 2.048
sensor_type: simulation
cycle_interval_ms: 2000
watchdog:
  type: none
network:
  mac: "02:00:00:00:00:01"
  ip: 192.168.1.50
  subnet: 255.255.255.0
  gateway: 192.168.1.1
sensors:
  - name: temperature
    channel: 0
    calibration:
      full_scale_voltage: 2
      full_scale_value: 50
      zero_scale_value: -10
outputs:
  - type: http
    http:
      url: http://collector/readings
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load([]string{"-config", path, "-sample-rate", "860"})
	require.NoError(t, err)
	assert.Equal(t, "3", cfg.I2C.Bus)
	assert.Equal(t, 860, cfg.SampleRate, "flags override file")
	assert.Equal(t, 2.048, cfg.FullScale)
	assert.Equal(t, "192.168.1.50", cfg.Network.IP)
	require.Len(t, cfg.Sensors, 3)
	assert.Equal(t, -10.0, cfg.Sensors[0].Calibration.ZeroScaleValue)
	assert.Equal(t, 30.0, cfg.Sensors[2].Calibration.FullScaleValue)
	require.Len(t, cfg.Outputs, 1)
	assert.Equal(t, "http://collector/readings", cfg.Outputs[0].HTTP.URL)
}

func TestMaxCycleTime(t *testing.T) {
	cfg := DefaultConfig()
	// probe + 3 x (write + read + 9ms conversion at 128 SPS)
	assert.Equal(t, 377*time.Millisecond, cfg.MaxCycleTime())

	cfg.Outputs = []OutputConfig{{Type: "console"}, {Type: "mqtt"}, {Type: "http", HTTP: &HTTPConfig{URL: "http://c", TimeoutMs: 2000}}}
	assert.Equal(t, 377*time.Millisecond+7*time.Second, cfg.MaxCycleTime())

	cfg.Watchdog.TimeoutMs = cfg.CycleIntervalMs + 7377
	assert.Error(t, cfg.Validate())
	cfg.Watchdog.TimeoutMs = cfg.CycleIntervalMs + 7378
	assert.NoError(t, cfg.Validate())
}

func TestLoadPartialSensorOverride(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"node.yaml", `
sensors:
  - name: flow
    calibration:
      full_scale_value: 60
`},
		{"node.json", `{"sensors": [{"name": "flow", "calibration": {"full_scale_value": 60}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			cfg, err := Load([]string{"-config", path})
			require.NoError(t, err)
			require.Len(t, cfg.Sensors, 3)
			assert.Equal(t, DefaultConfig().Sensors[0], cfg.Sensors[0], "temperature untouched")
			assert.Equal(t, DefaultConfig().Sensors[1], cfg.Sensors[1], "conductivity untouched")

			flow := cfg.Sensors[2]
			assert.Equal(t, "flow", flow.Name)
			assert.Equal(t, 2, flow.Channel)
			assert.Equal(t, "linear", flow.Strategy)
			assert.Equal(t, 3.3, flow.Calibration.FullScaleVoltage)
			assert.Equal(t, 60.0, flow.Calibration.FullScaleValue)
			assert.Equal(t, 0.0, flow.Calibration.ZeroScaleValue)
		})
	}
}

func TestLoadSensorWithoutName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sensors": [{"channel": 3}]}`), 0o600))
	_, err := Load([]string{"-config", path})
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}
