package cmd

import (
	"crypto/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/emitter"
	"github.com/Rocky43007/phoenix/internal/integration"
	mqttint "github.com/Rocky43007/phoenix/internal/integration/mqtt"
	"github.com/Rocky43007/phoenix/internal/monitoring"
	"github.com/Rocky43007/phoenix/internal/platform"
	"github.com/Rocky43007/phoenix/internal/platform/simulated"
)

var e *emitter.Emitter

func run(cmd *cobra.Command, args []string) error {
	tasks := []func() error{
		setLogLevel,
		printStartMessage,
		setupMonitoring,
		setupIntegration,
		setupEmitter,
		startEmitter,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")

	log.Warning("stopping phoenix-emitter")
	if err := e.Stop(); err != nil {
		log.WithError(err).Error("stop emitter error")
	}
	if err := integration.GetIntegration().Close(); err != nil {
		log.WithError(err).Error("close integration error")
	}

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version": version,
	}).Info("starting Phoenix emitter")
	return nil
}

func setupMonitoring() error {
	if err := monitoring.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup monitoring error")
	}
	return nil
}

func setupIntegration() error {
	if config.C.Integration.MQTT.Server == "" {
		return nil
	}

	i, err := mqttint.NewBackend(config.C)
	if err != nil {
		return errors.Wrap(err, "setup mqtt integration error")
	}
	integration.SetIntegration(i)
	return nil
}

func setupEmitter() error {
	peripheral, sensors, err := platformAdapters()
	if err != nil {
		return err
	}

	e, err = emitter.New(config.C, peripheral, sensors, platform.SystemClock{}, rand.Reader)
	if err != nil {
		return errors.Wrap(err, "setup emitter error")
	}

	e.SetStatusFunc(func(s emitter.Status) {
		err := integration.GetIntegration().PublishStateEvent(integration.StateEvent{
			Type:      integration.EventState,
			Component: "emitter",
			State:     s.String(),
			Time:      time.Now(),
		})
		if err != nil {
			log.WithError(err).Error("publish state event error")
		}
	})

	return nil
}

func startEmitter() error {
	if err := e.Start(); err != nil {
		return errors.Wrap(err, "start emitter error")
	}
	return nil
}

func platformAdapters() (platform.Peripheral, platform.Sensors, error) {
	if !config.C.General.Simulated {
		return nil, nil, errors.New("no platform driver linked into this build, run with --simulated")
	}

	log.Info("using simulated platform adapters")

	radio := simulated.NewRadio(platform.SystemClock{})
	sensors := simulated.NewSensors()
	sensors.SetSnapshot(platform.SensorSnapshot{
		Accel:   &platform.Vector{Z: 1},
		Battery: platform.Battery{Level: 1},
	})

	return radio.Peripheral(), sensors, nil
}
