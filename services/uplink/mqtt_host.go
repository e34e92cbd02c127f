//go:build !rp2040 && !rp2350

package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/denisbrodbeck/machineid"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT transport for hosted builds. Forwarded records keep their bus topic
// under an optional remote prefix, so a broker-side consumer sees e.g.
// nodes/shed/hal/cap/env/temperature/env0/value.

func init() { RegisterTransport("mqtt", newMQTTTransport) }

const (
	mqttConnectTimeout = 10 * time.Second
	mqttSendTimeout    = 5 * time.Second
)

type mqttTransport struct {
	cfg *MQTTConfig
}

func newMQTTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.MQTT == nil || cfg.MQTT.Broker == "" {
		return nil, errors.New("mqtt transport requires a broker")
	}
	return &mqttTransport{cfg: cfg.MQTT}, nil
}

func (t *mqttTransport) Open(ctx context.Context) (Sink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.clientID()).
		SetCleanSession(true).
		SetConnectTimeout(mqttConnectTimeout)

	cli := mqtt.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		cli.Disconnect(0)
		return nil, errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		cli.Disconnect(0)
		return nil, err
	}
	return &mqttSink{cli: cli, prefix: t.cfg.Prefix}, nil
}

func (t *mqttTransport) String() string { return "mqtt" }

func (t *mqttTransport) clientID() string {
	if t.cfg.ClientID != "" {
		return t.cfg.ClientID
	}
	if id, err := machineid.ID(); err == nil {
		// Broker client IDs are commonly capped at 23 bytes (MQTT 3.1).
		if len(id) > 16 {
			id = id[:16]
		}
		return "envnode-" + id
	}
	return "envnode"
}

type mqttSink struct {
	cli    mqtt.Client
	prefix string
}

func (s *mqttSink) Send(rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	topic := rec.Topic
	if s.prefix != "" {
		topic = s.prefix + "/" + topic
	}
	tok := s.cli.Publish(topic, 0, false, payload)
	if !tok.WaitTimeout(mqttSendTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return tok.Error()
}

func (s *mqttSink) Close() error {
	s.cli.Disconnect(250)
	return nil
}
