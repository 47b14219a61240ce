// internal/sink/sink.go

// Package sink delivers structured samples to their destinations.
// The polling core emits through the Sink interface and never formats
// output itself.
package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ifluidics/pumpd/internal/device"
)

// Sink receives per-device header metadata, telemetry samples, and
// staleness signals. Stale devices are flagged, never silently omitted,
// so consumers can tell "no pump" from "pump unreachable".
type Sink interface {
	Header(dev string, lim device.Limits) error
	Sample(s device.TelemetrySample) error
	Stale(dev string, reason error) error
	Close() error
}

// Multi fans out to several sinks. Every sink sees every event; errors
// are collected, not short-circuited.
type Multi []Sink

func (m Multi) Header(dev string, lim device.Limits) error {
	var errs []string
	for _, s := range m {
		if err := s.Header(dev, lim); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return join(errs)
}

func (m Multi) Sample(sample device.TelemetrySample) error {
	var errs []string
	for _, s := range m {
		if err := s.Sample(sample); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return join(errs)
}

func (m Multi) Stale(dev string, reason error) error {
	var errs []string
	for _, s := range m {
		if err := s.Stale(dev, reason); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return join(errs)
}

func (m Multi) Close() error {
	var errs []string
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return join(errs)
}

func join(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, " | "))
}

// Discard swallows everything. Useful when no sink is configured.
type Discard struct{}

func (Discard) Header(string, device.Limits) error  { return nil }
func (Discard) Sample(device.TelemetrySample) error { return nil }
func (Discard) Stale(string, error) error           { return nil }
func (Discard) Close() error                        { return nil }

var _ Sink = Discard{}

func formatLimits(dev string, lim device.Limits) string {
	return fmt.Sprintf("%s: pressure_unit=%s flow_unit=%s max_pressure=%g max_flow=%g",
		dev, lim.Units.Pressure, lim.Units.Flow, lim.MaxPressure, lim.MaxFlow)
}
