// Package uart implements the PN53x L0 transport over a serial line
// (PN532C106 boards and Arygon readers), mirroring pn532_uart.c's wake-up
// pulse and post-open settling delay.
package uart

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/dotside-studios/pn53x"
	"github.com/dotside-studios/pn53x/transport"
)

func init() {
	pn53x.RegisterDriver(New())
}

const (
	name              = "pn532_uart"
	defaultBaud       = 115200
	wakeUpSettleDelay = 10 * time.Millisecond
)

// wakeUp is PN532C106's UART wake-up/auto-baud preamble, a framed
// SAMConfiguration(normal mode) command, per pn532_uart.c.
var wakeUp = []byte{0x55, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x03, 0xfd, 0xd4, 0x14, 0x01, 0x17, 0x00}

// Driver implements transport.Driver over a serial port.
type Driver struct {
	// ArygonDelay, when set, is applied after every Send, matching
	// Arygon readers' documented requirement of a short settling delay
	// before the response is ready, unlike the PN532C106 which needs
	// none.
	ArygonDelay time.Duration
}

// New returns a UART transport driver.
func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return name }

// Probe lists the host's serial port names without speaking to any of them,
// so a listed port is not confirmed to carry a PN53x.
func (d *Driver) Probe(ctx context.Context) ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("uart: list ports: %w", err)
	}
	return ports, nil
}

// Open opens port at speed (default 115200 when speed is empty) and
// performs the PN532C106 wake-up sequence.
func (d *Driver) Open(ctx context.Context, port, speed string) (transport.Conn, error) {
	baud := defaultBaud
	if speed != "" {
		if _, err := fmt.Sscanf(speed, "%d", &baud); err != nil {
			return nil, fmt.Errorf("uart: bad speed %q: %w", speed, err)
		}
	}

	mode := &serial.Mode{BaudRate: baud, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity}
	sp, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", port, err)
	}

	if _, err := sp.Write(wakeUp); err != nil {
		sp.Close()
		return nil, fmt.Errorf("uart: wake-up write: %w", err)
	}
	time.Sleep(wakeUpSettleDelay)
	sp.SetReadTimeout(50 * time.Millisecond)
	drain := make([]byte, 64)
	sp.Read(drain)

	return &Conn{port: sp, name: port, arygonDelay: d.ArygonDelay}, nil
}

// Conn implements transport.Conn over an open serial port.
type Conn struct {
	port        serial.Port
	name        string
	arygonDelay time.Duration
}

func (c *Conn) String() string { return name + ":" + c.name }

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if _, err := c.port.Write(frame); err != nil {
		return fmt.Errorf("uart: write: %w", err)
	}
	if c.arygonDelay > 0 {
		time.Sleep(c.arygonDelay)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	c.port.SetReadTimeout(timeout)
	done := make(chan struct{})
	var n int
	var err error
	go func() {
		n, err = c.port.Read(buf)
		close(done)
	}()
	select {
	case <-done:
		if err != nil {
			return 0, fmt.Errorf("uart: read: %w", err)
		}
		if n == 0 {
			return 0, context.DeadlineExceeded
		}
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Abort cancels any in-progress read by resetting the port's read timeout
// to return immediately; go.bug.st/serial has no dedicated cancel call.
func (c *Conn) Abort() {
	c.port.SetReadTimeout(time.Millisecond)
}

func (c *Conn) Close() error {
	return c.port.Close()
}
