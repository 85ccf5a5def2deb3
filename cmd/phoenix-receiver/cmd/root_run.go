package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/integration"
	mqttint "github.com/Rocky43007/phoenix/internal/integration/mqtt"
	"github.com/Rocky43007/phoenix/internal/monitoring"
	"github.com/Rocky43007/phoenix/internal/platform"
	"github.com/Rocky43007/phoenix/internal/platform/simulated"
	"github.com/Rocky43007/phoenix/internal/receiver"
)

var (
	r        *receiver.Receiver
	tickStop chan struct{}
)

func run(cmd *cobra.Command, args []string) error {
	tasks := []func() error{
		setLogLevel,
		printStartMessage,
		setupMonitoring,
		setupIntegration,
		setupReceiver,
		startReceiver,
		startTicker,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")

	log.Warning("stopping phoenix-receiver")
	close(tickStop)
	if err := r.Stop(); err != nil {
		log.WithError(err).Error("stop receiver error")
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
	}).Info("starting Phoenix receiver")
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

func setupReceiver() error {
	central, err := platformCentral()
	if err != nil {
		return err
	}

	r = receiver.New(config.C, central, platform.SystemClock{})

	r.SetStatusFunc(func(s receiver.Status) {
		err := integration.GetIntegration().PublishStateEvent(integration.StateEvent{
			Type:      integration.EventState,
			Component: "receiver",
			State:     s.String(),
			Time:      time.Now(),
		})
		if err != nil {
			log.WithError(err).Error("publish state event error")
		}
	})

	r.SetUpdateFunc(func(rec receiver.Record) {
		err := integration.GetIntegration().PublishBeaconEvent(integration.BeaconEventFromRecord(rec, integration.EventUp))
		if err != nil {
			log.WithError(err).Error("publish beacon event error")
		}
	})

	r.SetEvictFunc(func(rec receiver.Record) {
		err := integration.GetIntegration().PublishBeaconEvent(integration.BeaconEventFromRecord(rec, integration.EventEvict))
		if err != nil {
			log.WithError(err).Error("publish beacon event error")
		}
	})

	return nil
}

func startReceiver() error {
	if err := r.Start(); err != nil {
		return errors.Wrap(err, "start receiver error")
	}
	return nil
}

// startTicker drives stale-record eviction at the UI tick interval.
func startTicker() error {
	tickStop = make(chan struct{})

	go func() {
		ticker := time.NewTicker(config.C.Receiver.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Tick()
			case <-tickStop:
				return
			}
		}
	}()

	return nil
}

func platformCentral() (platform.Central, error) {
	if !config.C.General.Simulated {
		return nil, errors.New("no platform driver linked into this build, run with --simulated")
	}

	log.Info("using simulated platform adapters")
	return simulated.NewCentral(), nil
}
