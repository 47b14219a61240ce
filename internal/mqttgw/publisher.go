// internal/mqttgw/publisher.go

// Package mqttgw connects the daemon to an MQTT broker: a publisher
// that acts as a telemetry sink, and a gateway that turns broker
// messages into command requests.
package mqttgw

import (
	"context"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ifluidics/pumpd/internal/device"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config describes the broker connection.
type Config struct {
	Broker    string
	Port      int
	ClientID  string
	Username  string
	Password  string
	BaseTopic string
}

const (
	connectRetryDelay = 5 * time.Second
	publishTimeout    = 5 * time.Second
)

// Publisher implements sink.Sink over MQTT. Telemetry goes to
// <base>/<device>/telemetry, limits retained to <base>/<device>/limits,
// staleness to <base>/<device>/status. The daemon's own liveness is a
// retained last-will on <base>/status.
type Publisher struct {
	client paho.Client
	base   string
	log    *zap.SugaredLogger
}

// NewPublisher builds the publisher client; call Connect before use.
func NewPublisher(cfg Config, log *zap.SugaredLogger) *Publisher {
	statusTopic := cfg.BaseTopic + "/status"

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID + "_pub")
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(statusTopic, "offline", 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		log.Infow("mqtt publisher connected")
		if token := client.Publish(statusTopic, 1, true, "online"); token.Wait() && token.Error() != nil {
			log.Warnw("online status publish failed", "error", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Errorw("mqtt publisher disconnected", "error", err)
	})

	return &Publisher{
		client: paho.NewClient(opts),
		base:   cfg.BaseTopic,
		log:    log,
	}
}

// Connect retries until the broker accepts or ctx is cancelled.
func (p *Publisher) Connect(ctx context.Context) error {
	return connectWithRetry(ctx, p.client, "publisher", p.log)
}

// ---- sink.Sink ----

type limitsMessage struct {
	PressureUnit string  `json:"pressure_unit"`
	FlowUnit     string  `json:"flow_unit"`
	MaxPressure  float64 `json:"max_pressure"`
	MaxFlow      float64 `json:"max_flow"`
}

type telemetryMessage struct {
	Time     time.Time `json:"time"`
	Pressure float64   `json:"pressure"`
	FlowRate float64   `json:"flow_rate"`
	Running  bool      `json:"running"`
}

type statusMessage struct {
	Stale  bool   `json:"stale"`
	Reason string `json:"reason,omitempty"`
}

func (p *Publisher) Header(dev string, lim device.Limits) error {
	return p.publish(p.deviceTopic(dev, "limits"), true, limitsMessage{
		PressureUnit: lim.Units.Pressure,
		FlowUnit:     lim.Units.Flow,
		MaxPressure:  lim.MaxPressure,
		MaxFlow:      lim.MaxFlow,
	})
}

func (p *Publisher) Sample(s device.TelemetrySample) error {
	if err := p.publish(p.deviceTopic(s.Device, "telemetry"), false, telemetryMessage{
		Time:     s.At,
		Pressure: s.Pressure,
		FlowRate: s.FlowRate,
		Running:  s.Running,
	}); err != nil {
		return err
	}
	return p.publish(p.deviceTopic(s.Device, "status"), true, statusMessage{Stale: false})
}

func (p *Publisher) Stale(dev string, reason error) error {
	return p.publish(p.deviceTopic(dev, "status"), true, statusMessage{
		Stale:  true,
		Reason: reason.Error(),
	})
}

func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		token := p.client.Publish(p.base+"/status", 1, true, "offline")
		token.WaitTimeout(publishTimeout)
		p.client.Disconnect(250)
	}
	return nil
}

func (p *Publisher) publish(topic string, retained bool, msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqtt: marshal for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	return token.Error()
}

func (p *Publisher) deviceTopic(dev, leaf string) string {
	return p.base + "/" + topicName(dev) + "/" + leaf
}

// topicName flattens a device label into a topic segment.
func topicName(label string) string {
	s := strings.ToLower(label)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "#", "_")
	s = strings.ReplaceAll(s, "+", "_")
	return s
}

// connectWithRetry keeps trying the broker; paho reconnects on its own
// once the first connect succeeds.
func connectWithRetry(ctx context.Context, client paho.Client, role string, log *zap.SugaredLogger) error {
	attempt := 1
	for {
		token := client.Connect()
		if token.Wait() && token.Error() == nil {
			log.Infow("mqtt connected", "role", role, "attempts", attempt)
			return nil
		}
		log.Warnw("mqtt connect failed", "role", role, "attempt", attempt, "error", token.Error())

		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt %s connect cancelled: %w", role, ctx.Err())
		case <-time.After(connectRetryDelay):
			attempt++
		}
	}
}
