// internal/transport/modbus/client.go

// Package modbus adapts the goburrow RTU client to the transport.Wire
// surface over one shared serial line.
package modbus

import (
	"errors"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Client is the RTU adapter for one serial port.
// It serializes exchanges because it mutates SlaveId per call.
type Client struct {
	mu      sync.Mutex
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

// Config describes the serial line.
type Config struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration
}

// New opens the serial port and returns a connected RTU client.
func New(cfg Config) (*Client, error) {
	if cfg.Port == "" {
		return nil, errors.New("modbus rtu: port required")
	}

	h := modbus.NewRTUClientHandler(cfg.Port)
	h.BaudRate = cfg.BaudRate
	h.DataBits = cfg.DataBits
	h.Parity = cfg.Parity
	h.StopBits = cfg.StopBits
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, err
	}

	return &Client{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

// Close closes the serial port.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

// ---- transport.Wire ----

func (c *Client) ReadCoils(unit uint8, address, quantity uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unit
	return c.client.ReadCoils(address, quantity)
}

func (c *Client) ReadHoldingRegisters(unit uint8, address, quantity uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unit
	return c.client.ReadHoldingRegisters(address, quantity)
}

func (c *Client) WriteSingleCoil(unit uint8, address, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unit
	_, err := c.client.WriteSingleCoil(address, value)
	return err
}

func (c *Client) WriteMultipleRegisters(unit uint8, address, quantity uint16, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unit
	_, err := c.client.WriteMultipleRegisters(address, quantity, payload)
	return err
}
