// internal/mqttgw/gateway_test.go
package mqttgw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifluidics/pumpd/internal/command"
)

func TestParseCommand(t *testing.T) {
	req, err := parseCommand([]byte(`{"device":"Pump A","action":"set-flow","value":2.5}`))
	require.NoError(t, err)
	assert.Equal(t, "Pump A", req.Device)
	assert.Equal(t, command.ActionSetFlow, req.Action)
	assert.Equal(t, 2.5, req.Value)

	req, err = parseCommand([]byte(`{"device":"Pump B","action":"stop"}`))
	require.NoError(t, err)
	assert.Equal(t, command.ActionStop, req.Action)
	assert.Zero(t, req.Value)
}

func TestParseCommand_Rejected(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `start pump a`},
		{"missing device", `{"action":"start"}`},
		{"unknown action", `{"device":"Pump A","action":"reverse"}`},
		{"empty action", `{"device":"Pump A"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseCommand([]byte(tc.payload))
			assert.Error(t, err)
		})
	}
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "pump_a", topicName("Pump A"))
	assert.Equal(t, "rig_3_pump_b", topicName("Rig 3/Pump B"))
	assert.Equal(t, "p_q_", topicName("P#Q+"))
}
