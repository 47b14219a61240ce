// internal/mqttgw/gateway.go
package mqttgw

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ifluidics/pumpd/internal/command"
)

// Gateway subscribes to <base>/command, submits parsed requests to the
// dispatcher, and publishes each outcome to <base>/command/result. It
// never retries a command itself.
type Gateway struct {
	client      paho.Client
	disp        *command.Dispatcher
	cmdTopic    string
	resultTopic string
	log         *zap.SugaredLogger
}

type commandMessage struct {
	Device string  `json:"device"`
	Action string  `json:"action"`
	Value  float64 `json:"value,omitempty"`
}

type resultMessage struct {
	ID     string  `json:"id,omitempty"`
	Device string  `json:"device"`
	Action string  `json:"action"`
	Value  float64 `json:"value,omitempty"`
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
}

// NewGateway builds the gateway client; call Connect before use.
func NewGateway(cfg Config, disp *command.Dispatcher, log *zap.SugaredLogger) *Gateway {
	g := &Gateway{
		disp:        disp,
		cmdTopic:    cfg.BaseTopic + "/command",
		resultTopic: cfg.BaseTopic + "/command/result",
		log:         log,
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID + "_cmd")
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client paho.Client) {
		// Re-subscribe on every (re)connect.
		if token := client.Subscribe(g.cmdTopic, 1, g.onCommand); token.Wait() && token.Error() != nil {
			log.Errorw("command subscribe failed", "topic", g.cmdTopic, "error", token.Error())
			return
		}
		log.Infow("command gateway subscribed", "topic", g.cmdTopic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Errorw("command gateway disconnected", "error", err)
	})

	g.client = paho.NewClient(opts)
	return g
}

// Connect retries until the broker accepts or ctx is cancelled.
func (g *Gateway) Connect(ctx context.Context) error {
	return connectWithRetry(ctx, g.client, "gateway", g.log)
}

// Close disconnects from the broker.
func (g *Gateway) Close() error {
	if g.client.IsConnected() {
		g.client.Disconnect(250)
	}
	return nil
}

func (g *Gateway) onCommand(_ paho.Client, msg paho.Message) {
	req, err := parseCommand(msg.Payload())
	if err != nil {
		g.log.Warnw("bad command message", "error", err)
		g.publishResult(resultMessage{OK: false, Error: err.Error()})
		return
	}

	res, err := g.disp.Submit(req)
	if err != nil {
		g.publishResult(resultMessage{
			Device: req.Device,
			Action: string(req.Action),
			Value:  req.Value,
			OK:     false,
			Error:  err.Error(),
		})
		return
	}

	// Results arrive after the current polling round releases the bus.
	go func() {
		r := <-res
		out := resultMessage{
			ID:     r.Request.ID.String(),
			Device: r.Request.Device,
			Action: string(r.Request.Action),
			Value:  r.Request.Value,
			OK:     r.Err == nil,
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		g.publishResult(out)
	}()
}

func (g *Gateway) publishResult(out resultMessage) {
	payload, err := json.Marshal(out)
	if err != nil {
		g.log.Errorw("result marshal failed", "error", err)
		return
	}
	token := g.client.Publish(g.resultTopic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		g.log.Errorw("result publish failed", "error", token.Error())
	}
}

// parseCommand validates the JSON payload into a dispatcher request.
func parseCommand(payload []byte) (command.Request, error) {
	var msg commandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return command.Request{}, fmt.Errorf("mqtt: command parse: %w", err)
	}
	if msg.Device == "" {
		return command.Request{}, fmt.Errorf("mqtt: command missing device")
	}

	action := command.Action(msg.Action)
	switch action {
	case command.ActionStart, command.ActionStop:
	case command.ActionSetFlow, command.ActionSetPressure:
	default:
		return command.Request{}, fmt.Errorf("mqtt: unknown action %q", msg.Action)
	}

	return command.Request{
		Device: msg.Device,
		Action: action,
		Value:  msg.Value,
	}, nil
}
