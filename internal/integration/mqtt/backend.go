// Package mqtt implements the MQTT event integration.
package mqtt

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"os"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/integration"
)

// Backend implements an MQTT event integration.
type Backend struct {
	conn          paho.Client
	conf          config.Config
	eventTemplate *template.Template
}

type topicContext struct {
	DeviceID  string
	EventType string
}

// NewBackend creates an MQTT integration backend and connects to the
// broker, retrying until the connection succeeds.
func NewBackend(conf config.Config) (integration.Integration, error) {
	b := Backend{
		conf: conf,
	}

	var err error
	b.eventTemplate, err = template.New("event").Parse(conf.Integration.MQTT.EventTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "integration/mqtt: parse event-topic template error")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Integration.MQTT.Server)
	opts.SetUsername(conf.Integration.MQTT.Username)
	opts.SetPassword(conf.Integration.MQTT.Password)
	opts.SetCleanSession(conf.Integration.MQTT.CleanSession)
	opts.SetClientID(conf.Integration.MQTT.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(conf.Integration.MQTT.MaxReconnectInterval)
	opts.SetOnConnectHandler(b.onConnected)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	tlsconfig, err := newTLSConfig(conf.Integration.MQTT.CACert, conf.Integration.MQTT.TLSCert, conf.Integration.MQTT.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "integration/mqtt: load certificates error")
	}
	if tlsconfig != nil {
		opts.SetTLSConfig(tlsconfig)
	}

	log.WithField("server", conf.Integration.MQTT.Server).Info("integration/mqtt: connecting to broker")
	b.conn = paho.NewClient(opts)
	for {
		if token := b.conn.Connect(); token.Wait() && token.Error() != nil {
			log.Errorf("integration/mqtt: connecting to broker failed, will retry in 2s: %s", token.Error())
			time.Sleep(2 * time.Second)
		} else {
			break
		}
	}

	return &b, nil
}

// PublishBeaconEvent implements the integration.Integration interface.
func (b *Backend) PublishBeaconEvent(e integration.BeaconEvent) error {
	bb, err := e.Marshal()
	if err != nil {
		return errors.Wrap(err, "integration/mqtt: marshal event error")
	}
	return b.publish(topicContext{DeviceID: e.DeviceID, EventType: e.Type}, bb)
}

// PublishStateEvent implements the integration.Integration interface.
func (b *Backend) PublishStateEvent(e integration.StateEvent) error {
	bb, err := e.Marshal()
	if err != nil {
		return errors.Wrap(err, "integration/mqtt: marshal event error")
	}
	return b.publish(topicContext{DeviceID: e.Component, EventType: e.Type}, bb)
}

// Close implements the integration.Integration interface.
func (b *Backend) Close() error {
	log.Info("integration/mqtt: closing backend")
	b.conn.Disconnect(250)
	return nil
}

func (b *Backend) publish(tc topicContext, payload []byte) error {
	topic := bytes.NewBuffer(nil)
	if err := b.eventTemplate.Execute(topic, tc); err != nil {
		return errors.Wrap(err, "integration/mqtt: execute event-topic template error")
	}

	log.WithFields(log.Fields{
		"topic": topic.String(),
		"event": tc.EventType,
	}).Debug("integration/mqtt: publishing event")

	if token := b.conn.Publish(topic.String(), b.conf.Integration.MQTT.QOS, false, payload); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "integration/mqtt: publish event error")
	}

	eventCounter(tc.EventType).Inc()
	return nil
}

func (b *Backend) onConnected(paho.Client) {
	connectCounter().Inc()
	log.Info("integration/mqtt: connected to broker")
}

func (b *Backend) onConnectionLost(_ paho.Client, err error) {
	disconnectCounter().Inc()
	log.WithError(err).Error("integration/mqtt: connection to broker lost")
}

func newTLSConfig(cafile, certFile, certKeyFile string) (*tls.Config, error) {
	if cafile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	if cafile != "" {
		cacert, err := os.ReadFile(cafile)
		if err != nil {
			return nil, errors.Wrap(err, "read ca certificate error")
		}
		certpool := x509.NewCertPool()
		certpool.AppendCertsFromPEM(cacert)
		tlsConfig.RootCAs = certpool
	}

	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load tls key-pair error")
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}

	return tlsConfig, nil
}
