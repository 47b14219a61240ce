// internal/sink/csv.go
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ifluidics/pumpd/internal/device"
)

var csvColumns = []string{"time", "device", "pressure", "flow_rate", "running", "stale"}

// CSV appends telemetry rows to one file per run. Device limits arrive
// before the first sample and are written as '#' comment lines, the way
// the original logger put instrument settings in the file header. The
// column row is written once, after all headers.
type CSV struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	columns bool
}

// NewCSV creates the output file. Refuses to overwrite an existing file.
func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csv sink: %w", err)
	}
	return &CSV{f: f, w: csv.NewWriter(f)}, nil
}

func (c *CSV) Header(dev string, lim device.Limits) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.columns {
		return fmt.Errorf("csv sink: header for %q after first row", dev)
	}
	_, err := fmt.Fprintf(c.f, "# %s\n", formatLimits(dev, lim))
	return err
}

func (c *CSV) Sample(s device.TelemetrySample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRow([]string{
		s.At.UTC().Format(time.RFC3339),
		s.Device,
		strconv.FormatFloat(s.Pressure, 'f', -1, 64),
		strconv.FormatFloat(s.FlowRate, 'f', -1, 64),
		strconv.FormatBool(s.Running),
		"",
	})
}

func (c *CSV) Stale(dev string, reason error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRow([]string{
		time.Now().UTC().Format(time.RFC3339),
		dev,
		"", "", "",
		reason.Error(),
	})
}

func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// writeRow flushes after every row so the file tails live.
func (c *CSV) writeRow(row []string) error {
	if !c.columns {
		if err := c.w.Write(csvColumns); err != nil {
			return err
		}
		c.columns = true
	}
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

var _ Sink = (*CSV)(nil)
