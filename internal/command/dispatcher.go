// internal/command/dispatcher.go

// Package command accepts asynchronous start/stop/setpoint requests and
// executes them against device sessions without racing the poll
// scheduler: dispatcher and scheduler contend for the same bus mutex, so
// a command runs between polling rounds, never inside one.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifluidics/pumpd/internal/device"
	"github.com/ifluidics/pumpd/internal/regmap"
)

// Action is what a request asks the pump to do.
type Action string

const (
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionSetFlow     Action = "set-flow"
	ActionSetPressure Action = "set-pressure"
)

// Request is consumed exactly once. Value applies to setpoint actions.
type Request struct {
	ID     uuid.UUID
	Device string
	Action Action
	Value  float64
}

// Result is delivered asynchronously on the channel returned by Submit.
type Result struct {
	Request Request
	At      time.Time
	Err     error
}

// ErrQueueFull means the submission queue is saturated; the submitter
// decides whether to retry.
var ErrQueueFull = errors.New("command: queue full")

const defaultQueueSize = 16

type pending struct {
	req Request
	res chan Result
}

// Dispatcher serializes command execution on the shared bus.
// Writes are never retried here: commands are not idempotent-safe to
// blindly repeat, so retry policy belongs to the submitter.
type Dispatcher struct {
	busMu    *sync.Mutex
	sessions map[string]*device.Session
	queue    chan pending
	log      *zap.SugaredLogger
}

// New builds a dispatcher over the given sessions. busMu is the same
// bus-access lock the scheduler holds per round.
func New(busMu *sync.Mutex, sessions []*device.Session, queueSize int, log *zap.SugaredLogger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	byLabel := make(map[string]*device.Session, len(sessions))
	for _, s := range sessions {
		byLabel[s.Label()] = s
	}
	return &Dispatcher{
		busMu:    busMu,
		sessions: byLabel,
		queue:    make(chan pending, queueSize),
		log:      log,
	}
}

// Submit queues a request. Unknown devices and a full queue are rejected
// immediately; otherwise the result arrives exactly once on the returned
// channel.
func (d *Dispatcher) Submit(req Request) (<-chan Result, error) {
	if _, ok := d.sessions[req.Device]; !ok {
		return nil, fmt.Errorf("command: unknown device %q", req.Device)
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	p := pending{req: req, res: make(chan Result, 1)}
	select {
	case d.queue <- p:
		return p.res, nil
	default:
		return nil, ErrQueueFull
	}
}

// Run services queued requests until ctx is cancelled. Requests still
// queued at shutdown are failed with the cancellation cause, so every
// accepted submission gets exactly one result.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ctx.Err())
			d.log.Infow("dispatcher stopped")
			return
		case p := <-d.queue:
			d.execute(p)
		}
	}
}

// drain fails everything left in the queue without touching the bus.
func (d *Dispatcher) drain(cause error) {
	for {
		select {
		case p := <-d.queue:
			p.res <- Result{
				Request: p.req,
				At:      time.Now(),
				Err:     fmt.Errorf("command: dispatcher shut down: %w", cause),
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) execute(p pending) {
	d.busMu.Lock()
	err := d.apply(p.req)
	d.busMu.Unlock()

	if err != nil {
		d.log.Warnw("command failed",
			"id", p.req.ID,
			"device", p.req.Device,
			"action", p.req.Action,
			"error", err,
		)
	} else {
		d.log.Infow("command applied",
			"id", p.req.ID,
			"device", p.req.Device,
			"action", p.req.Action,
		)
	}

	p.res <- Result{Request: p.req, At: time.Now(), Err: err}
}

func (d *Dispatcher) apply(req Request) error {
	sess := d.sessions[req.Device]
	switch req.Action {
	case ActionStart:
		return sess.SetRunState(true)
	case ActionStop:
		return sess.SetRunState(false)
	case ActionSetFlow:
		return sess.SetSetpoint(regmap.FieldFlowSetpoint, req.Value)
	case ActionSetPressure:
		return sess.SetSetpoint(regmap.FieldPressureSetpoint, req.Value)
	default:
		return fmt.Errorf("command: unknown action %q", req.Action)
	}
}
