// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/ifluidics/pumpd/internal/regmap"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	p := &cfg.Pumpd

	if p.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if p.Serial.TimeoutMs < 0 {
		return fmt.Errorf("serial.timeout_ms must be >= 0")
	}
	if p.Serial.Retries != nil && *p.Serial.Retries < 0 {
		return fmt.Errorf("serial.retries must be >= 0")
	}
	if p.Poll.IntervalMs < 0 {
		return fmt.Errorf("poll.interval_ms must be >= 0")
	}
	if p.Poll.StaleAfter < 0 {
		return fmt.Errorf("poll.stale_after must be >= 0")
	}

	if len(p.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}

	seen := make(map[string]bool, len(p.Devices))
	for _, d := range p.Devices {
		if d.Label == "" {
			return fmt.Errorf("device label is required")
		}
		if seen[d.Label] {
			return fmt.Errorf("device %q: duplicate label", d.Label)
		}
		seen[d.Label] = true

		if d.Address < 1 || d.Address > 247 {
			return fmt.Errorf("device %q: address %d out of range 1..247", d.Label, d.Address)
		}

		if d.Map == "" {
			return fmt.Errorf("device %q: map is required", d.Label)
		}
		_, builtin := regmap.Builtin(d.Map)
		_, custom := p.RegisterMaps[d.Map]
		if !builtin && !custom {
			return fmt.Errorf("device %q: unknown register map %q", d.Label, d.Map)
		}
	}

	// Custom maps must construct cleanly; geometry errors surface here
	// rather than at session build time.
	for name, mc := range p.RegisterMaps {
		if _, err := buildMap(name, mc); err != nil {
			return err
		}
	}

	if p.MQTT != nil {
		if p.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is configured")
		}
		if p.MQTT.Port < 0 || p.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port %d out of range", p.MQTT.Port)
		}
	}

	return nil
}

func buildMap(name string, mc MapConfig) (*regmap.Map, error) {
	fields := make([]regmap.Field, 0, len(mc.Fields))
	for fname, fc := range mc.Fields {
		fields = append(fields, regmap.Field{
			Name:    fname,
			Table:   regmap.Table(fc.Table),
			Address: fc.Address,
			Count:   fc.Count,
			Codec:   regmap.Codec(fc.Codec),
			Scale:   fc.Scale,
		})
	}
	return regmap.New(name, fields)
}

// BuildMaps resolves every map referenced by the device list, custom
// definitions shadowing built-ins of the same name.
func BuildMaps(cfg *Config) (map[string]*regmap.Map, error) {
	out := make(map[string]*regmap.Map)
	for _, d := range cfg.Pumpd.Devices {
		if _, done := out[d.Map]; done {
			continue
		}
		if mc, ok := cfg.Pumpd.RegisterMaps[d.Map]; ok {
			m, err := buildMap(d.Map, mc)
			if err != nil {
				return nil, err
			}
			out[d.Map] = m
			continue
		}
		if m, ok := regmap.Builtin(d.Map); ok {
			out[d.Map] = m
			continue
		}
		return nil, fmt.Errorf("device %q: unknown register map %q", d.Label, d.Map)
	}
	return out, nil
}
