// cmd/pumpd/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ifluidics/pumpd/internal/command"
	"github.com/ifluidics/pumpd/internal/config"
	"github.com/ifluidics/pumpd/internal/device"
	"github.com/ifluidics/pumpd/internal/mqttgw"
	"github.com/ifluidics/pumpd/internal/scheduler"
	"github.com/ifluidics/pumpd/internal/sink"
	"github.com/ifluidics/pumpd/internal/transport"
	rtu "github.com/ifluidics/pumpd/internal/transport/modbus"
)

func main() {
	logger, _ := zap.NewProduction(zap.AddStacktrace(zap.FatalLevel))
	defer logger.Sync()
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		sugar.Fatal("usage: pumpd <config.yaml>")
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		sugar.Fatalw("config load failed", "error", err)
	}
	if err := config.Validate(cfg); err != nil {
		sugar.Fatalw("config validation failed", "error", err)
	}
	config.Normalize(cfg)

	maps, err := config.BuildMaps(cfg)
	if err != nil {
		sugar.Fatalw("register map build failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Shared serial line (fail fast at startup)
	// --------------------

	p := &cfg.Pumpd

	wire, err := rtu.New(rtu.Config{
		Port:     p.Serial.Port,
		BaudRate: p.Serial.BaudRate,
		DataBits: p.Serial.DataBits,
		Parity:   p.Serial.Parity,
		StopBits: p.Serial.StopBits,
		Timeout:  time.Duration(p.Serial.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		sugar.Fatalw("serial port open failed", "port", p.Serial.Port, "error", err)
	}
	defer wire.Close()

	bus := transport.New(wire, *p.Serial.Retries)

	// --------------------
	// Sessions, in configuration order
	// --------------------

	sessions := make([]*device.Session, 0, len(p.Devices))
	for _, d := range p.Devices {
		sess, err := device.NewSession(device.Config{
			Label: d.Label,
			Unit:  d.Address,
			Map:   maps[d.Map],
		}, bus)
		if err != nil {
			sugar.Fatalw("session build failed", "device", d.Label, "error", err)
		}
		sessions = append(sessions, sess)
	}

	// --------------------
	// Sinks
	// --------------------

	var sinks sink.Multi

	if p.Sink.CSVDir != "" {
		path := filepath.Join(p.Sink.CSVDir, time.Now().Format("20060102_150405")+"_pumplog.csv")
		csvSink, err := sink.NewCSV(path)
		if err != nil {
			sugar.Fatalw("csv sink failed", "path", path, "error", err)
		}
		sugar.Infow("logging to file", "path", path)
		sinks = append(sinks, csvSink)
	}

	var publisher *mqttgw.Publisher
	if p.MQTT != nil {
		mcfg := mqttgw.Config{
			Broker:    p.MQTT.Broker,
			Port:      p.MQTT.Port,
			ClientID:  p.MQTT.ClientID,
			Username:  p.MQTT.Username,
			Password:  p.MQTT.Password,
			BaseTopic: p.MQTT.BaseTopic,
		}
		publisher = mqttgw.NewPublisher(mcfg, sugar)
		if err := publisher.Connect(ctx); err != nil {
			sugar.Fatalw("mqtt publisher connect failed", "error", err)
		}
		sinks = append(sinks, publisher)
	}

	var out sink.Sink = sinks
	if len(sinks) == 0 {
		out = sink.Discard{}
		sugar.Warn("no sink configured, telemetry discarded")
	}
	defer out.Close()

	// --------------------
	// Scheduler + dispatcher sharing one bus lock
	// --------------------

	var busMu sync.Mutex

	sched := scheduler.New(scheduler.Config{
		Interval:   time.Duration(p.Poll.IntervalMs) * time.Millisecond,
		StaleAfter: p.Poll.StaleAfter,
	}, &busMu, sessions, out, sugar)

	disp := command.New(&busMu, sessions, 0, sugar)
	go disp.Run(ctx)

	if p.MQTT != nil {
		gw := mqttgw.NewGateway(mqttgw.Config{
			Broker:    p.MQTT.Broker,
			Port:      p.MQTT.Port,
			ClientID:  p.MQTT.ClientID,
			Username:  p.MQTT.Username,
			Password:  p.MQTT.Password,
			BaseTopic: p.MQTT.BaseTopic,
		}, disp, sugar)
		if err := gw.Connect(ctx); err != nil {
			sugar.Fatalw("mqtt gateway connect failed", "error", err)
		}
		defer gw.Close()
	}

	sugar.Infow("pumpd started",
		"port", p.Serial.Port,
		"devices", len(p.Devices),
		"interval_ms", p.Poll.IntervalMs,
	)

	// Blocks until shutdown signal or fatal serial failure.
	if err := sched.Run(ctx); err != nil {
		sugar.Fatalw("serial bus failure, restart required", "error", err)
	}
	sugar.Info("shutdown complete")
}
