package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/envnode/pkg/adc"
	"github.com/ericogr/envnode/pkg/config"
	"github.com/ericogr/envnode/pkg/metrics"
	"github.com/ericogr/envnode/pkg/network"
	"github.com/ericogr/envnode/pkg/node"
	"github.com/ericogr/envnode/pkg/output"
	"github.com/ericogr/envnode/pkg/output/console"
	httpout "github.com/ericogr/envnode/pkg/output/http"
	"github.com/ericogr/envnode/pkg/output/mqtt"
	"github.com/ericogr/envnode/pkg/sensor"
	"github.com/ericogr/envnode/pkg/watchdog"
)

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatal(err)
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("node stopped")
	}
}

func setupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func run(ctx context.Context, cfg config.Config) (err error) {
	if d := cfg.StartupDelay(); d > 0 {
		log.Infof("waiting %s before bring-up", d)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}

	bus, closeBus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeBus()) }()

	gain, err := adc.GainForFullScale(cfg.FullScale)
	if err != nil {
		return err
	}
	dev := adc.New(bus, adc.Options{
		Address:  uint16(cfg.I2C.Address),
		Gain:     gain,
		DataRate: adc.DataRate(cfg.SampleRate),
		Speed:    physic.Frequency(cfg.I2C.SpeedHz) * physic.Hertz,
		Timeout:  cfg.BusTimeout(),
	})

	catalog, err := sensor.BuildCatalog(cfg)
	if err != nil {
		return errors.Wrap(err, "sensor catalog")
	}
	sensors := sensor.NewManager(dev, catalog, log.WithField("component", "sensors"))

	outputs, err := initOutputs(&cfg, catalog)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, outputs.Close()) }()

	netCfg, err := network.ParseConfig(cfg.Network)
	if err != nil {
		return errors.Wrap(err, "network config")
	}
	var netInit network.Initializer = network.NewHostInitializer()
	if isSimulation(cfg) {
		netInit = network.Noop{}
	}

	m := metrics.New()
	if cfg.MetricsAddress != "" {
		srv := serveMetrics(cfg.MetricsAddress, m)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	wd := newWatchdog(cfg)
	if err := wd.Arm(cfg.WatchdogTimeout()); err != nil {
		return errors.Wrap(err, "arm watchdog")
	}

	loop := node.New(node.Options{
		Sensors:  sensors,
		Network:  netInit,
		NetCfg:   netCfg,
		Output:   outputs,
		Watchdog: wd,
		Interval: cfg.CycleInterval(),
		Metrics:  m,
		Logger:   log.WithField("component", "loop"),
	})

	runErr := loop.Run(ctx)
	if errors.Is(runErr, node.ErrHalted) && strings.ToLower(cfg.HaltPolicy) == "wait" {
		// stop petting and leave the reset to the watchdog
		log.WithError(runErr).Error("startup failed, waiting for watchdog reset")
		<-ctx.Done()
	}
	return multierr.Append(runErr, wd.Close())
}

func isSimulation(cfg config.Config) bool {
	return strings.ToLower(cfg.SensorType) == "simulation"
}

func openBus(cfg config.Config) (adc.Bus, func() error, error) {
	if isSimulation(cfg) {
		log.Info("using simulated ADS1115")
		return adc.NewSimBus(uint16(cfg.I2C.Address), time.Now().UnixNano()), func() error { return nil }, nil
	}
	bus, err := adc.OpenPeriphBus(cfg.I2C.Bus)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("opened i2c bus %s", bus)
	return bus, bus.Close, nil
}

func newWatchdog(cfg config.Config) watchdog.Watchdog {
	switch strings.ToLower(cfg.Watchdog.Type) {
	case "software":
		return watchdog.NewSoftware(nil)
	case "device":
		return watchdog.NewDevice(cfg.Watchdog.Device)
	default:
		return watchdog.Nop{}
	}
}

// initOutputs builds one publisher per configured output.
func initOutputs(cfg *config.Config, catalog []sensor.Definition) (output.Multi, error) {
	outs := make(output.Multi, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		o, err := newOutput(cfg.Outputs[i], catalog)
		if err != nil {
			return nil, multierr.Append(errors.Wrapf(err, "output %s", cfg.Outputs[i].Type), outs.Close())
		}
		outs = append(outs, o)
	}
	return outs, nil
}

func newOutput(oc config.OutputConfig, catalog []sensor.Definition) (output.Output, error) {
	switch strings.ToLower(oc.Type) {
	case "console":
		return console.NewConsole(), nil
	case "mqtt":
		mc := config.MQTTConfig{}
		if oc.MQTT != nil {
			mc = *oc.MQTT
		}
		return mqtt.NewMQTT(mc, catalog)
	case "http":
		if oc.HTTP == nil {
			return nil, errors.New("missing http settings")
		}
		return httpout.NewHTTP(*oc.HTTP)
	default:
		return nil, errors.Errorf("unknown output type %q", oc.Type)
	}
}

func serveMetrics(addr string, m *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.Infof("serving metrics on %s/metrics", addr)
	return srv
}
