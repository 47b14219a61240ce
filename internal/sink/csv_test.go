// internal/sink/csv_test.go
package sink

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifluidics/pumpd/internal/device"
	"github.com/ifluidics/pumpd/internal/regmap"
)

func testLimits() device.Limits {
	return device.Limits{
		Units:       regmap.Units{Pressure: "PSI", Flow: "ml/min"},
		MaxPressure: 517.5,
		MaxFlow:     25,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}

func TestCSV_HeaderThenRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	c, err := NewCSV(path)
	require.NoError(t, err)

	require.NoError(t, c.Header("Pump A", testLimits()))

	at := time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC)
	require.NoError(t, c.Sample(device.TelemetrySample{
		Device: "Pump A", At: at, Pressure: 120.5, FlowRate: 2, Running: true,
	}))
	require.NoError(t, c.Stale("Pump B", errors.New("timed out")))
	require.NoError(t, c.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 4)
	assert.Equal(t, "# Pump A: pressure_unit=PSI flow_unit=ml/min max_pressure=517.5 max_flow=25", lines[0])

	r := csv.NewReader(strings.NewReader(strings.Join(lines[1:], "\n")))
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvColumns, rows[0])
	assert.Equal(t, []string{"2026-08-23T10:30:00Z", "Pump A", "120.5", "2", "true", ""}, rows[1])
	assert.Equal(t, "Pump B", rows[2][1])
	assert.Empty(t, rows[2][2], "stale rows carry no readings")
	assert.Equal(t, "timed out", rows[2][5])
}

func TestCSV_HeaderAfterRowsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	c, err := NewCSV(path)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Sample(device.TelemetrySample{Device: "Pump A", At: time.Now()}))
	assert.Error(t, c.Header("Pump A", testLimits()))
}

func TestCSV_RefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous run"), 0o644))

	_, err := NewCSV(path)
	require.Error(t, err)

	raw, _ := os.ReadFile(path)
	assert.Equal(t, "previous run", string(raw))
}

// errSink fails every call with a fixed error.
type errSink struct{ err error }

func (e errSink) Header(string, device.Limits) error  { return e.err }
func (e errSink) Sample(device.TelemetrySample) error { return e.err }
func (e errSink) Stale(string, error) error           { return e.err }
func (e errSink) Close() error                        { return e.err }

func TestMulti_FansOutPastFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	c, err := NewCSV(path)
	require.NoError(t, err)

	m := Multi{errSink{errors.New("broker gone")}, c}

	err = m.Sample(device.TelemetrySample{Device: "Pump A", At: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")

	// the healthy sink still got the row
	require.NoError(t, c.Close())
	lines := readLines(t, path)
	assert.Len(t, lines, 2)
}

func TestDiscard(t *testing.T) {
	var s Sink = Discard{}
	assert.NoError(t, s.Header("x", testLimits()))
	assert.NoError(t, s.Sample(device.TelemetrySample{}))
	assert.NoError(t, s.Stale("x", errors.New("e")))
	assert.NoError(t, s.Close())
}
