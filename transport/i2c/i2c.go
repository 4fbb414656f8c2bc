// Package i2c implements the PN53x L0 transport over I2C, following the
// PN532's host-controller-style protocol: a one-byte ready-status read
// gates every frame read, and the chip auto-acknowledges correctly framed
// writes, so ACK handling from the USB/UART transports does not apply here.
package i2c

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/dotside-studios/pn53x"
	"github.com/dotside-studios/pn53x/transport"
)

func init() {
	pn53x.RegisterDriver(New())
}

const (
	name = "pn532_i2c"

	// pn532Addr is the PN532's 7-bit I2C slave address.
	pn532Addr = 0x24

	pn532Ready = 0x01

	maxClockFreq = 400 * physic.KiloHertz

	readyPollInterval = time.Millisecond
)

// Driver implements transport.Driver over an I2C bus.
type Driver struct{}

// New returns an I2C transport driver.
func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return name }

// Probe cannot enumerate I2C devices without addressing them directly (no
// discovery protocol exists on the bus), so it reports the host's I2C bus
// names as candidate ports, leaving device presence to Open.
func (d *Driver) Probe(ctx context.Context) ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("i2c: host init: %w", err)
	}
	var names []string
	for _, ref := range i2creg.All() {
		names = append(names, ref.Name)
	}
	return names, nil
}

// Open connects to the PN532 on the named I2C bus. speed is ignored (the
// bus clock is fixed at the chip's maximum rated 400kHz).
func (d *Driver) Open(ctx context.Context, port, speed string) (transport.Conn, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("i2c: host init: %w", err)
	}
	bus, err := i2creg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("i2c: open bus %s: %w", port, err)
	}
	if err := bus.SetSpeed(maxClockFreq); err != nil {
		bus.Close()
		return nil, fmt.Errorf("i2c: set speed: %w", err)
	}
	return &Conn{dev: &i2c.Dev{Addr: pn532Addr, Bus: bus}, bus: bus, name: port}, nil
}

// Conn implements transport.Conn over an open I2C bus device.
type Conn struct {
	dev  *i2c.Dev
	bus  i2c.BusCloser
	name string
}

func (c *Conn) String() string { return name + ":" + c.name }

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := c.dev.Tx(frame, nil); err != nil {
		return fmt.Errorf("i2c: write: %w", err)
	}
	return nil
}

// Receive polls the one-byte ready status until it reads 0x01 or timeout
// elapses, then reads the frame into buf in a single transaction.
func (c *Conn) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	ready := make([]byte, 1)
	for {
		if err := c.dev.Tx(nil, ready); err != nil {
			return 0, fmt.Errorf("i2c: ready poll: %w", err)
		}
		if ready[0] == pn532Ready {
			break
		}
		if time.Now().After(deadline) {
			return 0, context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
	if err := c.dev.Tx(nil, buf); err != nil {
		return 0, fmt.Errorf("i2c: frame read: %w", err)
	}
	return len(buf), nil
}

// Abort has no I2C-level equivalent; the ready-poll loop already observes
// ctx.Done on every iteration, so cancelling ctx is sufficient.
func (c *Conn) Abort() {}

func (c *Conn) Close() error {
	return c.bus.Close()
}
