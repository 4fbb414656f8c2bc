// Package transport defines the L0 capability set every PN53x transport
// driver implements (USB bulk, PC/SC, UART, I2C) and the read-only registry
// that maps connection-string driver tags onto a concrete driver.
package transport

import (
	"context"
	"time"
)

// Driver probes for and opens connections to PN53x devices reachable over
// one specific transport.
type Driver interface {
	// Name is the connection-string driver tag this driver answers to,
	// e.g. "pn532_usb", "acr122_pcsc", "pn532_uart", "pn532_i2c".
	Name() string

	// Probe enumerates connection strings for every device this driver can
	// currently see, without opening any of them.
	Probe(ctx context.Context) ([]string, error)

	// Open establishes a connection to the device named by connstring's
	// port/speed portion (the driver tag has already been stripped).
	Open(ctx context.Context, port, speed string) (Conn, error)
}

// Conn is an open byte-oriented connection to a single PN53x chip. It
// carries raw frame bytes only; L1 framing lives above this interface.
type Conn interface {
	// Send writes a complete frame (ACK, NACK, or normal/extended command
	// frame) to the device.
	Send(ctx context.Context, frame []byte) error

	// Receive reads up to len(buf) bytes of the next frame into buf,
	// returning the number of bytes read. It blocks until data arrives,
	// the deadline expires, or Abort is called.
	Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error)

	// Abort unblocks any Receive currently in flight, causing it to return
	// promptly with an error.
	Abort()

	// Close releases the underlying transport resource.
	Close() error

	// String identifies the connection for logging, e.g. "pn532_usb:001:004".
	String() string
}

// Registry holds the set of known drivers, keyed by connection-string
// driver tag. It is built once at process start and never mutated
// concurrently with lookups, matching the spec's "no global mutable state
// beyond the read-only driver registry" design note.
type Registry struct {
	drivers map[string]Driver
	order   []string
}

// NewRegistry builds a Registry from the given drivers, keyed by each
// driver's Name().
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[string]Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.Name()] = d
		r.order = append(r.order, d.Name())
	}
	return r
}

// Lookup returns the driver registered for tag, or false if none matches.
func (r *Registry) Lookup(tag string) (Driver, bool) {
	d, ok := r.drivers[tag]
	return d, ok
}

// Names returns the registered driver tags in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every registered driver in registration order.
func (r *Registry) All() []Driver {
	out := make([]Driver, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.drivers[name])
	}
	return out
}
