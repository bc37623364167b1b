package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Publisher is the part of an MQTT client the notifier needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes every message to an MQTT topic below a prefix.
type MQTTNotifier struct {
	publisher Publisher
	client    mqtt.Client
	prefix    string
}

type mqttPayload struct {
	Kind       string `json:"kind"`
	Status     string `json:"status,omitempty"`
	LatestTime string `json:"latest_time,omitempty"`
	SentAt     string `json:"sent_at"`
}

// DialMQTT connects to a broker and returns a notifier publishing under
// prefix.
func DialMQTT(broker, clientID, prefix string) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", broker)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}

	logrus.WithField("broker", broker).Info("MQTT notifier connected")

	n := NewMQTTNotifier(client, prefix)
	n.client = client

	return n, nil
}

// NewMQTTNotifier creates a notifier on top of an existing publisher.
func NewMQTTNotifier(p Publisher, prefix string) *MQTTNotifier {
	return &MQTTNotifier{publisher: p, prefix: prefix}
}

// Topic returns the topic messages of the given kind are published to.
func (n *MQTTNotifier) Topic(k Kind) string {
	return n.prefix + "/" + k.String()
}

// Notify implements Notifier. Publishing uses QoS 0 and does not wait for the
// broker.
func (n *MQTTNotifier) Notify(msg Message) {
	p := mqttPayload{
		Kind:   msg.Kind.String(),
		SentAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if msg.Kind == StatusChanged {
		p.Status = string(msg.Status.Status)
		p.LatestTime = msg.Status.LatestTime.String()
	}

	payload, err := json.Marshal(p)
	if err != nil {
		logrus.WithError(err).Error("cannot encode MQTT notification")
		return
	}

	topic := n.Topic(msg.Kind)
	token := n.publisher.Publish(topic, 0, false, payload)

	go func() {
		token.Wait()

		if err := token.Error(); err != nil {
			logrus.WithError(err).WithField("topic", topic).
				Warn("MQTT publish failed")
		}
	}()
}

// Close disconnects the client if the notifier created it.
func (n *MQTTNotifier) Close() {
	if n.client != nil {
		n.client.Disconnect(250)
	}
}
