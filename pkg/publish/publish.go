// Package publish forwards logged contacts to outside listeners.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dougsko/mm3d/pkg/logging"
	"github.com/dougsko/mm3d/pkg/qsolog"
)

// Publisher receives every contact appended to the log
type Publisher interface {
	PublishQSO(entry qsolog.Entry) error
	Close()
}

// Nop discards everything
type Nop struct{}

func (Nop) PublishQSO(qsolog.Entry) error { return nil }
func (Nop) Close()                        {}

// MQTTConfig holds broker settings
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// QSOMessage is the JSON body published for a contact
type QSOMessage struct {
	Station   string       `json:"station"`
	Contest   string       `json:"contest,omitempty"`
	Published int64        `json:"published"`
	QSO       qsolog.Entry `json:"qso"`
}

// client is the part of mqtt.Client the publisher uses
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes contacts to <prefix>/qso
type MQTTPublisher struct {
	client  client
	topic   string
	station func() (string, string)
	timeout time.Duration
}

func generateClientID() string {
	return "mm3d_" + uuid.NewString()
}

// NewMQTTPublisher connects to the broker. station returns the own
// callsign and contest name stamped on each message.
func NewMQTTPublisher(config MQTTConfig, station func() (string, string)) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logging.Info("mqtt", "Connected to broker", map[string]interface{}{"broker": config.Broker})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warn("mqtt", "Connection lost", map[string]interface{}{"error": err.Error()})
	})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newMQTTPublisher(c, config.TopicPrefix, station), nil
}

func newMQTTPublisher(c client, prefix string, station func() (string, string)) *MQTTPublisher {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "mm3d"
	}
	if station == nil {
		station = func() (string, string) { return "", "" }
	}
	return &MQTTPublisher{
		client:  c,
		topic:   prefix + "/qso",
		station: station,
		timeout: 5 * time.Second,
	}
}

// Topic returns the QSO topic
func (p *MQTTPublisher) Topic() string {
	return p.topic
}

// PublishQSO sends entry at QoS 0, not retained
func (p *MQTTPublisher) PublishQSO(entry qsolog.Entry) error {
	call, contest := p.station()
	payload, err := json.Marshal(QSOMessage{
		Station:   call,
		Contest:   contest,
		Published: time.Now().Unix(),
		QSO:       entry,
	})
	if err != nil {
		return fmt.Errorf("failed to encode qso: %w", err)
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	logging.Debug("mqtt", "QSO published", map[string]interface{}{"serial": entry.Serial, "topic": p.topic})
	return nil
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
