package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ericogr/envnode/pkg/calibration"
)

type I2CConfig struct {
	Bus       string `json:"bus" yaml:"bus"`
	Address   int    `json:"address" yaml:"address"`
	SpeedHz   int64  `json:"speed_hz" yaml:"speed_hz"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type SensorConfig struct {
	Name        string             `json:"name" yaml:"name"`
	Channel     int                `json:"channel" yaml:"channel"`
	Strategy    string             `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Calibration calibration.Params `json:"calibration" yaml:"calibration"`
}

// NetworkConfig is the static identity of the node.
type NetworkConfig struct {
	Interface string `json:"interface,omitempty" yaml:"interface,omitempty"`
	MAC       string `json:"mac" yaml:"mac"`
	IP        string `json:"ip" yaml:"ip"`
	Subnet    string `json:"subnet" yaml:"subnet"`
	Gateway   string `json:"gateway" yaml:"gateway"`
	DNS       string `json:"dns" yaml:"dns"`
}

type WatchdogConfig struct {
	// Type is none, software or device.
	Type      string `json:"type" yaml:"type"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
	Device    string `json:"device,omitempty" yaml:"device,omitempty"`
}

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty" yaml:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty" yaml:"discovery_unique_id,omitempty"`
}

type HTTPConfig struct {
	URL       string `json:"url" yaml:"url"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

type OutputConfig struct {
	Type string      `json:"type" yaml:"type"`
	MQTT *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	HTTP *HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`
}

type Config struct {
	I2C             I2CConfig      `json:"i2c" yaml:"i2c"`
	SampleRate      int            `json:"sample_rate" yaml:"sample_rate"`
	FullScale       float64        `json:"full_scale" yaml:"full_scale"`
	SensorType      string         `json:"sensor_type" yaml:"sensor_type"`
	Sensors         []SensorConfig `json:"sensors" yaml:"sensors"`
	CycleIntervalMs int            `json:"cycle_interval_ms" yaml:"cycle_interval_ms"`
	StartupDelayMs  int            `json:"startup_delay_ms" yaml:"startup_delay_ms"`
	Watchdog        WatchdogConfig `json:"watchdog" yaml:"watchdog"`
	Network         NetworkConfig  `json:"network" yaml:"network"`
	Outputs         []OutputConfig `json:"outputs" yaml:"outputs"`
	MetricsAddress  string         `json:"metrics_address" yaml:"metrics_address"`
	LogLevel        string         `json:"log_level" yaml:"log_level"`
	// HaltPolicy is wait (block until the watchdog resets the node) or exit.
	HaltPolicy string `json:"halt_policy" yaml:"halt_policy"`
}

func DefaultConfig() Config {
	return Config{
		I2C: I2CConfig{
			Bus:       "1",
			Address:   0x48,
			SpeedHz:   400000,
			TimeoutMs: 50,
		},
		SampleRate: 128,
		FullScale:  4.096,
		SensorType: "real",
		Sensors: []SensorConfig{
			{Name: "temperature", Channel: 0, Strategy: "linear", Calibration: calibration.Params{FullScaleVoltage: 3.3, FullScaleValue: 100}},
			{Name: "conductivity", Channel: 1, Strategy: "linear", Calibration: calibration.Params{FullScaleVoltage: 3.3, FullScaleValue: 100}},
			{Name: "flow", Channel: 2, Strategy: "linear", Calibration: calibration.Params{FullScaleVoltage: 3.3, FullScaleValue: 30}},
		},
		CycleIntervalMs: 10000,
		StartupDelayMs:  0,
		Watchdog: WatchdogConfig{
			Type:      "software",
			TimeoutMs: 30000,
			Device:    "/dev/watchdog",
		},
		Network: NetworkConfig{
			DNS: "8.8.8.8",
		},
		Outputs:    []OutputConfig{{Type: "console"}},
		LogLevel:   "info",
		HaltPolicy: "wait",
	}
}

func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMs) * time.Millisecond
}

func (c Config) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelayMs) * time.Millisecond
}

func (c Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.Watchdog.TimeoutMs) * time.Millisecond
}

func (c Config) BusTimeout() time.Duration {
	return time.Duration(c.I2C.TimeoutMs) * time.Millisecond
}

// DefaultOutputTimeout bounds one publish when an output sets no timeout.
const DefaultOutputTimeout = 5 * time.Second

// defaultBusTimeout matches the driver's default when i2c.timeout_ms is unset.
const defaultBusTimeout = 50 * time.Millisecond

// MaxCycleTime is the longest one cycle can take before the next pet: the
// presence probe, a config write, conversion and read per sensor, then every
// output's publish timeout in turn.
func (c Config) MaxCycleTime() time.Duration {
	bus := c.BusTimeout()
	if bus <= 0 {
		bus = defaultBusTimeout
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = 128
	}
	conversion := time.Duration(1000/rate+2) * time.Millisecond

	sensors := len(DefaultConfig().Sensors)
	if len(c.Sensors) > sensors {
		sensors = len(c.Sensors)
	}
	d := bus + time.Duration(sensors)*(2*bus+conversion)
	for _, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case "mqtt":
			d += DefaultOutputTimeout
		case "http":
			if o.HTTP != nil && o.HTTP.TimeoutMs > 0 {
				d += time.Duration(o.HTTP.TimeoutMs) * time.Millisecond
			} else {
				d += DefaultOutputTimeout
			}
		}
	}
	return d
}

// Validate checks option ranges that would otherwise fail late at runtime.
func (c Config) Validate() error {
	switch c.SampleRate {
	case 8, 16, 32, 64, 128, 250, 475, 860:
	default:
		return errors.Errorf("sample-rate %d not supported", c.SampleRate)
	}
	switch c.FullScale {
	case 6.144, 4.096, 2.048, 1.024, 0.512, 0.256:
	default:
		return errors.Errorf("full-scale %.3f not supported", c.FullScale)
	}
	if c.I2C.Address <= 0 || c.I2C.Address > 0x7f {
		return errors.Errorf("i2c-address 0x%x out of range", c.I2C.Address)
	}
	if c.CycleIntervalMs <= 0 {
		return errors.New("cycle-interval-ms must be > 0")
	}
	switch strings.ToLower(c.SensorType) {
	case "real", "simulation":
	default:
		return errors.Errorf("sensor-type %q must be real or simulation", c.SensorType)
	}
	switch strings.ToLower(c.Watchdog.Type) {
	case "none", "":
	case "software", "device":
		if gap := c.CycleInterval() + c.MaxCycleTime(); c.WatchdogTimeout() <= gap {
			return errors.Errorf("watchdog timeout %s must exceed the cycle interval plus the longest cycle (%s)", c.WatchdogTimeout(), gap)
		}
	default:
		return errors.Errorf("watchdog type %q must be none, software or device", c.Watchdog.Type)
	}
	switch strings.ToLower(c.HaltPolicy) {
	case "wait", "exit":
	default:
		return errors.Errorf("halt-policy %q must be wait or exit", c.HaltPolicy)
	}
	for _, s := range c.Sensors {
		if err := s.Calibration.Validate(); err != nil {
			return errors.Wrapf(err, "sensor %s", s.Name)
		}
	}
	return nil
}

// LoadFromFlags loads configuration from the process arguments.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load reads an optional JSON or YAML config file and applies flags on top.
// Flags override values present in the file.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("envnode", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagSampleRate := fs.Int("sample-rate", -1, "ADS1115 sample rate (SPS)")
	flagFullScale := fs.Float64("full-scale", -1, "ADS1115 full-scale range in volts (gain)")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagChannels := fs.String("sensor-channels", "", "Per-sensor channels e.g. temperature=0,flow=2")
	flagFSVoltage := fs.String("full-scale-voltage", "", "Per-sensor full-scale voltage e.g. temperature=3.3")
	flagFSValue := fs.String("full-scale-value", "", "Per-sensor value at full scale e.g. flow=30")
	flagZeroValue := fs.String("zero-scale-value", "", "Per-sensor value at zero volts e.g. temperature=-10")
	flagInterval := fs.Int("cycle-interval-ms", -1, "Acquisition cycle interval in ms")
	flagWatchdog := fs.String("watchdog", "", "Watchdog type: none|software|device")
	flagWatchdogTimeout := fs.Int("watchdog-timeout-ms", -1, "Watchdog timeout in ms")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,http)")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic")
	flagHTTPURL := fs.String("http-url", "", "HTTP endpoint receiving readings")
	flagIP := fs.String("ip", "", "Static IPv4 address of the node")
	flagMetrics := fs.String("metrics-address", "", "Listen address for /metrics (empty disables)")
	flagLogLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return DefaultConfig(), err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := loadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagI2CBus != "" {
		cfg.I2C.Bus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, errors.Wrap(err, "i2c-address")
		}
		cfg.I2C.Address = v
	}
	if *flagSampleRate != -1 {
		cfg.SampleRate = *flagSampleRate
	}
	if *flagFullScale != -1 {
		cfg.FullScale = *flagFullScale
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagChannels != "" {
		m, err := parseKeyIntMap(*flagChannels)
		if err != nil {
			return cfg, errors.Wrap(err, "sensor-channels")
		}
		for name, ch := range m {
			cfg.sensor(name).Channel = ch
		}
	}
	for _, f := range []struct {
		name  string
		value string
		set   func(*SensorConfig, float64)
	}{
		{"full-scale-voltage", *flagFSVoltage, func(s *SensorConfig, v float64) { s.Calibration.FullScaleVoltage = v }},
		{"full-scale-value", *flagFSValue, func(s *SensorConfig, v float64) { s.Calibration.FullScaleValue = v }},
		{"zero-scale-value", *flagZeroValue, func(s *SensorConfig, v float64) { s.Calibration.ZeroScaleValue = v }},
	} {
		if f.value == "" {
			continue
		}
		m, err := parseKeyFloatMap(f.value)
		if err != nil {
			return cfg, errors.Wrap(err, f.name)
		}
		for name, v := range m {
			f.set(cfg.sensor(name), v)
		}
	}
	if *flagInterval != -1 {
		cfg.CycleIntervalMs = *flagInterval
	}
	if *flagWatchdog != "" {
		cfg.Watchdog.Type = *flagWatchdog
	}
	if *flagWatchdogTimeout != -1 {
		cfg.Watchdog.TimeoutMs = *flagWatchdogTimeout
	}
	if *flagOutputs != "" {
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p})
		}
		cfg.Outputs = outs
	}
	// map mqtt flags into every mqtt output (create one if missing)
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		applyMQTT := func(m *MQTTConfig) {
			if *flagMQTTServer != "" {
				m.Server = *flagMQTTServer
			}
			if *flagMQTTUser != "" {
				m.Username = *flagMQTTUser
			}
			if *flagMQTTPass != "" {
				m.Password = *flagMQTTPass
			}
			if *flagClientID != "" {
				m.ClientID = *flagClientID
			}
			if *flagTopic != "" {
				m.StateTopic = *flagTopic
			}
		}
		applied := false
		for i := range cfg.Outputs {
			if strings.ToLower(cfg.Outputs[i].Type) == "mqtt" {
				if cfg.Outputs[i].MQTT == nil {
					cfg.Outputs[i].MQTT = &MQTTConfig{}
				}
				applyMQTT(cfg.Outputs[i].MQTT)
				applied = true
			}
		}
		if !applied {
			mqttOut := OutputConfig{Type: "mqtt", MQTT: &MQTTConfig{}}
			applyMQTT(mqttOut.MQTT)
			cfg.Outputs = append(cfg.Outputs, mqttOut)
		}
	}
	if *flagHTTPURL != "" {
		applied := false
		for i := range cfg.Outputs {
			if strings.ToLower(cfg.Outputs[i].Type) == "http" {
				cfg.Outputs[i].HTTP = &HTTPConfig{URL: *flagHTTPURL}
				applied = true
			}
		}
		if !applied {
			cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: "http", HTTP: &HTTPConfig{URL: *flagHTTPURL}})
		}
	}
	if *flagIP != "" {
		cfg.Network.IP = *flagIP
	}
	if *flagMetrics != "" {
		cfg.MetricsAddress = *flagMetrics
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Sensor entries are merged by name onto the
// existing entry so fields left out of the file keep their defaults.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	defaults := append([]SensorConfig(nil), cfg.Sensors...)

	var entries []func(interface{}) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw struct {
			Sensors []yaml.Node `yaml:"sensors"`
		}
		if err = yaml.Unmarshal(b, cfg); err == nil {
			err = yaml.Unmarshal(b, &raw)
		}
		for i := range raw.Sensors {
			entries = append(entries, raw.Sensors[i].Decode)
		}
	default:
		var raw struct {
			Sensors []json.RawMessage `json:"sensors"`
		}
		if err = json.Unmarshal(b, cfg); err == nil {
			err = json.Unmarshal(b, &raw)
		}
		for _, m := range raw.Sensors {
			entries = append(entries, func(v interface{}) error { return json.Unmarshal(m, v) })
		}
	}
	if err != nil {
		return errors.Wrap(err, "parse config")
	}

	cfg.Sensors = defaults
	for i, decode := range entries {
		var head struct {
			Name string `json:"name" yaml:"name"`
		}
		if err := decode(&head); err != nil {
			return errors.Wrapf(err, "sensors[%d]", i)
		}
		if head.Name == "" {
			return errors.Errorf("sensors[%d]: missing name", i)
		}
		if err := decode(cfg.sensor(head.Name)); err != nil {
			return errors.Wrapf(err, "sensor %s", head.Name)
		}
	}
	return nil
}

// sensor returns the named sensor entry, adding it when missing.
func (c *Config) sensor(name string) *SensorConfig {
	for i := range c.Sensors {
		if c.Sensors[i].Name == name {
			return &c.Sensors[i]
		}
	}
	c.Sensors = append(c.Sensors, SensorConfig{Name: name})
	return &c.Sensors[len(c.Sensors)-1]
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func splitKV(p string) (string, string, error) {
	kv := strings.SplitN(p, "=", 2)
	if len(kv) != 2 {
		return "", "", fmt.Errorf("invalid entry '%s', want name=value", p)
	}
	return strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1]), nil
}

func parseKeyFloatMap(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, p := range parseCSV(s) {
		k, v, err := splitKV(p)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		k, v, err := splitKV(p)
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
