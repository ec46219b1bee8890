package mqtttransport

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Config holds the MQTT broker connection settings (spec.md §6's closed
// "MQTT" configuration section).
type Config struct {
	URL      string // e.g. "tcp://localhost"; Port is appended as ":<port>"
	Port     int
	ClientID string
}

// Handler is invoked for every message arriving on a subscribed topic.
type Handler func(topic string, payload []byte)

// Transport is a thin adapter around a paho MQTT client exposing exactly
// the publish/subscribe surface the core consumes.
type Transport struct {
	client mqtt.Client
	log    zerolog.Logger
}

// Connect dials the broker and blocks until the connection either
// succeeds or 10s elapse.
func Connect(config Config, log zerolog.Logger, onConnectionLost func(error)) (*Transport, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s:%d", config.URL, config.Port)).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
			if onConnectionLost != nil {
				onConnectionLost(err)
			}
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtttransport: connect to %s:%d timed out", config.URL, config.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtttransport: connect to %s:%d: %w", config.URL, config.Port, err)
	}

	return &Transport{client: client, log: log.With().Str("component", "mqtttransport").Logger()}, nil
}

// Subscribe registers handler for every one of spec.md §6's subscribe
// filters (event/command/state, EU868 region), at QoS 0.
func (t *Transport) Subscribe(handler Handler) error {
	for _, filter := range SubscribeFilters() {
		filter := filter
		token := t.client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtttransport: subscribe %s: %w", filter, err)
		}
	}
	return nil
}

// PublishDownlink publishes a DownlinkFrame payload to gatewayID's command
// topic at QoS 0, not retained, fire-and-forget: a publish failure is
// reported to the caller (who logs and continues with the next gateway)
// rather than blocking the flood.
func (t *Transport) PublishDownlink(gatewayID string, payload []byte) error {
	topic := DownlinkTopic(gatewayID)
	token := t.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtttransport: publish to %s timed out", topic)
	}
	return token.Error()
}

// Close disconnects from the broker, waiting up to 250ms for in-flight
// work to drain.
func (t *Transport) Close() {
	t.client.Disconnect(250)
}
