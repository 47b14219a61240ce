// internal/scheduler/scheduler.go

// Package scheduler drives periodic telemetry collection across the
// configured sessions with fixed-interval cadence and serialized bus
// access.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ifluidics/pumpd/internal/device"
	"github.com/ifluidics/pumpd/internal/sink"
	"github.com/ifluidics/pumpd/internal/transport"
)

// State is the scheduler's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Health is per-device poll bookkeeping. Mutated only by the scheduler;
// read-only everywhere else.
type Health struct {
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastErr             error
	Stale               bool
}

// Config is the scheduler's runtime knobs.
type Config struct {
	Interval   time.Duration // tick interval; default 5s
	StaleAfter int           // consecutive failures before Stale; default 3
}

const (
	defaultInterval   = 5 * time.Second
	defaultStaleAfter = 3
)

// Scheduler polls sessions in fixed configuration order, one round per
// tick, holding the shared bus mutex for the whole round so a pending
// command is serviced between rounds, never mid-exchange.
type Scheduler struct {
	cfg      Config
	busMu    *sync.Mutex
	sessions []*device.Session
	out      sink.Sink
	log      *zap.SugaredLogger

	state atomic.Int32

	mu     sync.RWMutex
	health map[string]*Health
}

// New builds a scheduler. busMu is the single bus-access lock shared
// with the command dispatcher.
func New(cfg Config, busMu *sync.Mutex, sessions []*device.Session, out sink.Sink, log *zap.SugaredLogger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	health := make(map[string]*Health, len(sessions))
	for _, s := range sessions {
		health[s.Label()] = &Health{}
	}
	return &Scheduler{
		cfg:      cfg,
		busMu:    busMu,
		sessions: sessions,
		out:      out,
		log:      log,
		health:   health,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Health returns a copy of the named device's health record.
func (s *Scheduler) Health(label string) (Health, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.health[label]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// Run fetches headers, then polls until ctx is cancelled or the serial
// port fails. Cancellation is observed at tick boundaries; an in-flight
// round completes or times out normally. Only a PortError is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.state.Store(int32(StateStopped))

	s.fetchHeaders()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler stopped")
			return nil
		case <-ticker.C:
			// A round longer than the interval leaves at most one
			// buffered tick; further missed ticks are dropped, so a
			// slow round never builds a backlog.
			if err := s.pollRound(); err != nil {
				return err
			}
		}
	}
}

// fetchHeaders reads each device's limits once and hands them to the
// sink as header metadata. A device that cannot answer yet still gets
// polled; its header is only logged as missing.
func (s *Scheduler) fetchHeaders() {
	s.busMu.Lock()
	defer s.busMu.Unlock()

	for _, sess := range s.sessions {
		lim, err := sess.FetchLimits()
		if err != nil {
			s.log.Warnw("limits fetch failed", "device", sess.Label(), "error", err)
			continue
		}
		s.log.Infow("device limits",
			"device", sess.Label(),
			"pressure_unit", lim.Units.Pressure,
			"flow_unit", lim.Units.Flow,
			"max_pressure", lim.MaxPressure,
			"max_flow", lim.MaxFlow,
		)
		if err := s.out.Header(sess.Label(), lim); err != nil {
			s.log.Errorw("sink header failed", "device", sess.Label(), "error", err)
		}
	}
}

// pollRound polls every session in configuration order under the bus
// lock. A failing device never aborts the round; only port loss does.
func (s *Scheduler) pollRound() error {
	s.state.Store(int32(StatePolling))
	defer s.state.Store(int32(StateIdle))

	s.busMu.Lock()
	defer s.busMu.Unlock()

	for _, sess := range s.sessions {
		sample, err := sess.Poll()
		if err != nil {
			if transport.IsFatal(err) {
				s.log.Errorw("serial port lost", "device", sess.Label(), "error", err)
				return err
			}
			s.recordFailure(sess.Label(), err)
			continue
		}
		s.recordSuccess(sess.Label())
		if err := s.out.Sample(sample); err != nil {
			s.log.Errorw("sink sample failed", "device", sess.Label(), "error", err)
		}
	}
	return nil
}

func (s *Scheduler) recordFailure(label string, err error) {
	s.mu.Lock()
	h := s.health[label]
	h.ConsecutiveFailures++
	h.LastErr = err
	if !h.Stale && h.ConsecutiveFailures >= s.cfg.StaleAfter {
		h.Stale = true
		s.log.Warnw("device marked stale",
			"device", label,
			"consecutive_failures", h.ConsecutiveFailures,
			"error", err,
		)
	}
	stale := h.Stale
	s.mu.Unlock()

	if stale {
		if serr := s.out.Stale(label, err); serr != nil {
			s.log.Errorw("sink stale signal failed", "device", label, "error", serr)
		}
	} else {
		s.log.Warnw("poll failed", "device", label, "error", err)
	}
}

func (s *Scheduler) recordSuccess(label string) {
	s.mu.Lock()
	h := s.health[label]
	if h.Stale {
		s.log.Infow("device recovered", "device", label, "after_failures", h.ConsecutiveFailures)
	}
	h.ConsecutiveFailures = 0
	h.LastSuccess = time.Now()
	h.LastErr = nil
	h.Stale = false
	s.mu.Unlock()
}
