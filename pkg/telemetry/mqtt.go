package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/itohio/golevel/pkg/config"
	"github.com/itohio/golevel/pkg/control"
	"github.com/itohio/golevel/pkg/meter"
	"github.com/itohio/golevel/pkg/tank"
)

const connectTimeout = 5 * time.Second

// Client is the part of the MQTT client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect connects to the configured broker. An empty client id is replaced
// by a generated one.
func Connect(cfg config.MQTTConfig) (mqtt.Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "tankd-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Broker, err)
	}
	log.Printf("mqtt: connected to %s as %s", cfg.Broker, clientID)
	return c, nil
}

// StateMessage is the payload published on <prefix>/<tank>/state.
type StateMessage struct {
	Tank           string    `json:"tank"`
	Height         float32   `json:"height_cm"`
	Filling        bool      `json:"filling"`
	Draining       bool      `json:"draining"`
	ControlEnabled bool      `json:"control_enabled"`
	Commands       []string  `json:"commands,omitempty"`
	Time           time.Time `json:"time"`
}

// ControlMessage is the payload published on <prefix>/control.
type ControlMessage struct {
	State string    `json:"state"`
	Time  time.Time `json:"time"`
}

// Publisher publishes tank snapshots and control transitions. Snapshots
// carrying commands are always published; others at most once per interval
// per tank.
type Publisher struct {
	client   Client
	prefix   string
	interval [tank.Count]time.Duration

	mu       sync.Mutex
	lastSent [tank.Count]time.Time

	now func() time.Time
}

// NewPublisher creates a publisher with topics under prefix.
func NewPublisher(client Client, prefix string, interval [tank.Count]time.Duration) *Publisher {
	return &Publisher{
		client:   client,
		prefix:   prefix,
		interval: interval,
		now:      time.Now,
	}
}

// StateTopic returns the topic of a tank's snapshots.
func (p *Publisher) StateTopic(id tank.ID) string {
	return p.prefix + "/" + id.String() + "/state"
}

// ControlTopic returns the topic of control transitions.
func (p *Publisher) ControlTopic() string {
	return p.prefix + "/control"
}

// PublishSnapshot publishes a measurement snapshot if it is due.
func (p *Publisher) PublishSnapshot(s meter.Snapshot) {
	if !s.Tank.Valid() || !p.due(s) {
		return
	}

	msg := StateMessage{
		Tank:           s.Tank.String(),
		Height:         s.Height,
		Filling:        s.Filling,
		Draining:       s.Draining,
		ControlEnabled: s.ControlEnabled,
		Time:           s.Time,
	}
	for _, cmd := range s.Commands {
		msg.Commands = append(msg.Commands, cmd.String())
	}
	p.publish(p.StateTopic(s.Tank), msg)
}

// PublishTransition publishes a supervisor transition.
func (p *Publisher) PublishTransition(st control.State) {
	p.publish(p.ControlTopic(), ControlMessage{State: st.String(), Time: p.now()})
}

func (p *Publisher) due(s meter.Snapshot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if len(s.Commands) == 0 && now.Sub(p.lastSent[s.Tank]) < p.interval[s.Tank] {
		return false
	}
	p.lastSent[s.Tank] = now
	return true
}

// publish does not wait for delivery; callers run on the control goroutines.
func (p *Publisher) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("mqtt: error marshalling %s: %v", topic, err)
		return
	}

	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			log.Printf("mqtt: failed to publish %s: %v", topic, token.Error())
		}
	}()
}
