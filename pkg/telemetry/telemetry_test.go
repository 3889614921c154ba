package telemetry

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/golevel/pkg/control"
	"github.com/itohio/golevel/pkg/meter"
	"github.com/itohio/golevel/pkg/tank"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveSnapshot(t *testing.T) {
	m := NewMetrics()

	m.ObserveSnapshot(meter.Snapshot{
		Tank:           tank.Tank2,
		Height:         42.5,
		Draining:       true,
		ControlEnabled: true,
		Dropped:        2,
	})

	assert.Equal(t, 42.5, testutil.ToFloat64(m.height.WithLabelValues("tank2")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.filling.WithLabelValues("tank2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.draining.WithLabelValues("tank2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.controlEnabled.WithLabelValues("tank2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.signalsDropped.WithLabelValues("tank2")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.signalsDropped.WithLabelValues("tank1")))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.ObserveCommand(tank.Tank1, tank.Fill)
	m.ObserveCommand(tank.Tank1, tank.Fill)
	m.ObserveCommand(tank.Tank1, tank.StopFill)
	m.ObserveTransition(control.Enabled)
	m.ObserveRequest(tank.Tank2, true)
	m.ObserveRequest(tank.Tank2, false)
	m.ObserveRequest(tank.Tank2, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.valveCommands.WithLabelValues("tank1", "fill")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.valveCommands.WithLabelValues("tank1", "stop_fill")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.valveCommands.WithLabelValues("tank2", "drain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("enabled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.transitions.WithLabelValues("disabled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportRequests.WithLabelValues("tank2", "fresh")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transportRequests.WithLabelValues("tank2", "stale")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveSnapshot(meter.Snapshot{Tank: tank.Tank1, Height: 12})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `tank_height_cm{tank="tank1"} 12`)
	assert.Contains(t, text, `tank_valve_commands_total{command="drain",tank="tank2"} 0`)
	assert.Contains(t, text, "go_goroutines")
}

type published struct {
	topic   string
	payload []byte
}

// fakeToken embeds the interface so only the methods the publisher calls
// need implementing.
type fakeToken struct {
	mqtt.Token
	err error
}

func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, payload: payload.([]byte)})
	return fakeToken{err: c.err}
}

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func TestPublisher_Topics(t *testing.T) {
	p := NewPublisher(&fakeClient{}, "plant", [tank.Count]time.Duration{})
	assert.Equal(t, "plant/tank1/state", p.StateTopic(tank.Tank1))
	assert.Equal(t, "plant/tank2/state", p.StateTopic(tank.Tank2))
	assert.Equal(t, "plant/control", p.ControlTopic())
}

func TestPublisher_SnapshotPayload(t *testing.T) {
	c := &fakeClient{}
	p := NewPublisher(c, "tanks", [tank.Count]time.Duration{})

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	p.PublishSnapshot(meter.Snapshot{
		Tank:           tank.Tank1,
		Height:         9.5,
		Filling:        true,
		ControlEnabled: true,
		Commands:       []tank.ValveCommand{tank.Fill},
		Time:           at,
	})

	msgs := c.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tanks/tank1/state", msgs[0].topic)

	var got StateMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, StateMessage{
		Tank:           "tank1",
		Height:         9.5,
		Filling:        true,
		ControlEnabled: true,
		Commands:       []string{"fill"},
		Time:           at,
	}, got)
}

func TestPublisher_RateLimit(t *testing.T) {
	c := &fakeClient{}
	p := NewPublisher(c, "tanks", [tank.Count]time.Duration{time.Second, time.Second})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	quiet := meter.Snapshot{Tank: tank.Tank1, Height: 30}

	p.PublishSnapshot(quiet)
	now = now.Add(100 * time.Millisecond)
	p.PublishSnapshot(quiet)
	assert.Len(t, c.messages(), 1, "second quiet snapshot is within the interval")

	// Other tank has its own interval.
	p.PublishSnapshot(meter.Snapshot{Tank: tank.Tank2, Height: 30})
	assert.Len(t, c.messages(), 2)

	// Commands are never held back.
	p.PublishSnapshot(meter.Snapshot{Tank: tank.Tank1, Commands: []tank.ValveCommand{tank.Drain}})
	assert.Len(t, c.messages(), 3)

	now = now.Add(time.Second)
	p.PublishSnapshot(quiet)
	assert.Len(t, c.messages(), 4)
}

func TestPublisher_Transition(t *testing.T) {
	c := &fakeClient{err: errors.New("offline")}
	p := NewPublisher(c, "tanks", [tank.Count]time.Duration{})

	p.PublishTransition(control.Disabled)

	msgs := c.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tanks/control", msgs[0].topic)
	assert.True(t, strings.Contains(string(msgs[0].payload), `"state":"disabled"`))
}

func TestPublisher_IgnoresInvalidTank(t *testing.T) {
	c := &fakeClient{}
	p := NewPublisher(c, "tanks", [tank.Count]time.Duration{})
	p.PublishSnapshot(meter.Snapshot{Tank: tank.ID(7)})
	assert.Empty(t, c.messages())
}
