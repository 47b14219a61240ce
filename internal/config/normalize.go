// internal/config/normalize.go
package config

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	p := &cfg.Pumpd

	// Serial defaults match the ISCO D-Series controller: 19200 8E1.
	if p.Serial.BaudRate == 0 {
		p.Serial.BaudRate = 19200
	}
	if p.Serial.DataBits == 0 {
		p.Serial.DataBits = 8
	}
	if p.Serial.Parity == "" {
		p.Serial.Parity = "E"
	}
	if p.Serial.StopBits == 0 {
		p.Serial.StopBits = 1
	}
	if p.Serial.TimeoutMs == 0 {
		p.Serial.TimeoutMs = 500
	}
	if p.Serial.Retries == nil {
		two := 2
		p.Serial.Retries = &two
	}

	if p.Poll.IntervalMs == 0 {
		p.Poll.IntervalMs = 5000
	}
	if p.Poll.StaleAfter == 0 {
		p.Poll.StaleAfter = 3
	}

	if p.MQTT != nil {
		if p.MQTT.Port == 0 {
			p.MQTT.Port = 1883
		}
		if p.MQTT.ClientID == "" {
			p.MQTT.ClientID = "pumpd"
		}
		if p.MQTT.BaseTopic == "" {
			p.MQTT.BaseTopic = "pumpd"
		}
	}
}
