package pn53x

import (
	"context"
	"sync"
	"time"

	"github.com/dotside-studios/pn53x/frame"
	"github.com/dotside-studios/pn53x/transport"
)

// fakeConnDriver is a transport.Driver that hands out a fresh fakeConn
// wired to okFirmwareHandler for every Open call, used by tests exercising
// driver registry lookup (Open, OpenFirst) without a real transport.
type fakeConnDriver struct {
	tag string
}

func (d *fakeConnDriver) Name() string { return d.tag }

func (d *fakeConnDriver) Probe(ctx context.Context) ([]string, error) {
	return []string{d.tag + ":bench"}, nil
}

func (d *fakeConnDriver) Open(ctx context.Context, port, speed string) (transport.Conn, error) {
	return newFakeConn(okFirmwareHandler(nil)), nil
}

// fakeConn is a scripted transport.Conn used by device/initiator/target
// tests. handler receives the decoded command byte and argument
// bytes of each outgoing frame and returns the response payload (response
// code + status + data, without TFI); fakeConn frames it and queues it for
// the next Receive.
type fakeConn struct {
	mu       sync.Mutex
	handler  func(cmd byte, args []byte) []byte
	pending  [][]byte
	sent     [][]byte
	block    bool
	unblock  chan struct{}
	sendsLog int
}

func newFakeConn(handler func(cmd byte, args []byte) []byte) *fakeConn {
	return &fakeConn{handler: handler, unblock: make(chan struct{})}
}

func (c *fakeConn) Send(ctx context.Context, f []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendsLog++
	cp := append([]byte(nil), f...)
	c.sent = append(c.sent, cp)

	decoded, err := frame.Decode(f)
	if err != nil {
		return err
	}
	if decoded.Kind != frame.KindResponse {
		return nil
	}
	payload := decoded.Payload
	var cmd byte
	var args []byte
	if len(payload) > 0 {
		cmd = payload[0]
		args = payload[1:]
	}

	if c.handler == nil {
		return nil
	}
	respPayload := c.handler(cmd, args)
	if respPayload == nil {
		c.block = true
		return nil
	}
	buf := make([]byte, frame.MaxFrameLen+16)
	n, err := frame.Encode(frame.TFIChipToHost, respPayload, buf)
	if err != nil {
		return err
	}
	c.pending = append(c.pending, buf[:n])
	return nil
}

func (c *fakeConn) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		return copy(buf, next), nil
	}
	blocking := c.block
	c.mu.Unlock()

	if !blocking {
		return 0, context.DeadlineExceeded
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.unblock:
		return 0, context.DeadlineExceeded
	}
}

func (c *fakeConn) Abort() {
	select {
	case <-c.unblock:
	default:
		close(c.unblock)
	}
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) String() string { return "fake:0" }

func (c *fakeConn) lastSent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendsLog
}

// okFirmwareHandler answers GetFirmwareVersion with a PN532 v1.6 reply,
// register reads with the last value written to that register, and
// register writes, SetParameters and RFConfigure calls with a bare success
// status, the minimum needed to get a Device through Open/Configure without
// a real chip. Any other command is passed to extra when it is set (a nil
// reply from extra leaves the command unanswered, so the next Receive
// blocks) and answered with a bare success status when it is not.
func okFirmwareHandler(extra func(cmd byte, args []byte) []byte) func(byte, []byte) []byte {
	regs := map[uint16]byte{}
	return func(cmd byte, args []byte) []byte {
		switch cmd {
		case 0x02: // GetFirmwareVersion
			return []byte{0x03, 0x32, 0x01, 0x06, 0x07}
		case 0x06: // GetRegister
			reg := uint16(args[0])<<8 | uint16(args[1])
			return []byte{0x07, regs[reg]}
		case 0x08: // SetRegister
			reg := uint16(args[0])<<8 | uint16(args[1])
			regs[reg] = args[2]
			return []byte{0x09, 0x00}
		case 0x12: // SetParameters
			return []byte{0x13, 0x00}
		case 0x32: // RFConfigure
			return []byte{0x33, 0x00}
		default:
			if extra != nil {
				return extra(cmd, args)
			}
			return []byte{cmd + 1, 0x00}
		}
	}
}
