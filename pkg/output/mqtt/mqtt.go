package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/envnode/pkg/config"
	"github.com/ericogr/envnode/pkg/output"
	"github.com/ericogr/envnode/pkg/sensor"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultStateTopic = "envnode/state"
	publishTimeout    = config.DefaultOutputTimeout
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	deviceClassTemperature = "temperature"
)

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	log        *log.Entry
}

// NewMQTT connects to the broker and, when a discovery topic is configured,
// announces one entity per catalog sensor.
func NewMQTT(cfg config.MQTTConfig, catalog []sensor.Definition) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "envnode-" + uuid.NewString()
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqtt connect")
	}
	return newWithClient(client, cfg, catalog), nil
}

func newWithClient(client mqtt.Client, cfg config.MQTTConfig, catalog []sensor.Definition) *MQTTOutput {
	if cfg.StateTopic == "" {
		cfg.StateTopic = DefaultStateTopic
	}
	m := &MQTTOutput{
		client:     client,
		stateTopic: cfg.StateTopic,
		log:        log.WithField("component", "mqtt"),
	}

	// Publish Home Assistant discovery payloads if requested
	if cfg.DiscoveryTopic != "" {
		for _, d := range catalog {
			dTopic := discoveryTopic(cfg.DiscoveryTopic, d.Kind)
			payload := baseDiscoveryPayload(discoveryName(cfg, d.Kind), m.stateTopic, discoveryUniqueID(cfg, d.Kind), d.Kind)
			if err := publishJSON(client, dTopic, true, payload); err != nil {
				m.log.WithError(err).Warn("mqtt discovery publish error")
			}
		}
	}
	return m
}

func (m *MQTTOutput) Publish(r sensor.Reading) error {
	b, err := json.Marshal(statePayload(r))
	if err != nil {
		return err
	}
	if err := m.PublishRaw(m.stateTopic, b, false); err != nil {
		return errors.Wrapf(output.ErrTransmissionFailed, "mqtt publish: %v", err)
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return errors.New("mqtt client not connected")
	}
	return wait(m.client.Publish(topic, 0, retained, payload))
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt publish timeout")
	}
	return token.Error()
}

// helper: state document with one key per sensor
func statePayload(r sensor.Reading) map[string]interface{} {
	payload := map[string]interface{}{
		"timestamp": r.Timestamp,
	}
	if r.ID != "" {
		payload["id"] = r.ID
	}
	for _, k := range sensor.Kinds {
		payload[k.String()] = r.Get(k)
	}
	return payload
}

// helper: discovery topic for a sensor; a %s formatter is replaced by the
// sensor name, otherwise the name is appended as a path segment
func discoveryTopic(base string, k sensor.Kind) string {
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, k)
	}
	return strings.TrimSuffix(base, "/") + "/" + k.String() + "/config"
}

// helper: build a human-friendly discovery name
func discoveryName(cfg config.MQTTConfig, k sensor.Kind) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = "envnode"
	}
	return fmt.Sprintf("%s %s", name, k)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, k sensor.Kind) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s", uid, k)
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string, k sensor.Kind) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   k.Unit(),
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", k),
		keyJSONAttributesTopic: stateTopic,
	}
	if k == sensor.Temperature {
		payload[keyDeviceClass] = deviceClassTemperature
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return wait(client.Publish(topic, 0, retained, b))
}
