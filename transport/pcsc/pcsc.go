// Package pcsc implements the PN53x L0 transport over PC/SC readers that
// tunnel raw chip frames inside a vendor APDU wrapper, the way the ACR122U
// and its clones expose a PN532 to the host.
//
// Every outgoing PN53x frame is wrapped as FF 00 00 00 LEN <frame>
// (escape/direct-transmit, per original_source's acr122.c) and, on readers
// that only support T=0, retrieved with a second FF C0 00 00 LEN "get
// response" transmit. Readers that expose a direct escape channel (no
// negotiated T=0/T=1 protocol) use Card.Control instead of Card.Transmit.
package pcsc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ebfe/scard"

	"github.com/dotside-studios/pn53x"
	"github.com/dotside-studios/pn53x/transport"
)

func init() {
	pn53x.RegisterDriver(New())
}

const (
	name = "acr122_pcsc"

	// ioctlCCIDEscape is PC/SC's generic CCID escape control code,
	// ((0x31 << 16) | (3500 << 2)) per acr122.c.
	ioctlCCIDEscape = (0x31 << 16) | (3500 << 2)

	firmwareMarker = "ACR122U"
)

// Driver implements transport.Driver over PC/SC smart-card readers.
type Driver struct{}

// New returns a PC/SC transport driver.
func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return name }

// Probe lists PC/SC readers reporting an ACR122U-style firmware string,
// the same marker original_source's acr122_connect uses to recognize a
// PN532 sitting behind a contactless reader.
func (d *Driver) Probe(ctx context.Context) ([]string, error) {
	actx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer actx.Release()

	readers, err := actx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}

	var found []string
	for i, reader := range readers {
		card, err := connectReader(actx, reader)
		if err != nil {
			continue
		}
		fw, ferr := firmware(card)
		card.Disconnect(scard.LeaveCard)
		if ferr != nil || !strings.Contains(fw, firmwareMarker) {
			continue
		}
		found = append(found, fmt.Sprintf("%s:%d", name, i))
	}
	return found, nil
}

// Open connects to the reader at the given index (the port argument is the
// decimal index Probe returned, not a reader name, since reader names may
// contain ':' and collide with the connstring grammar).
func (d *Driver) Open(ctx context.Context, port, speed string) (transport.Conn, error) {
	idx, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("pcsc: bad port %q: %w", port, err)
	}

	actx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	readers, err := actx.ListReaders()
	if err != nil {
		actx.Release()
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	if idx < 0 || idx >= len(readers) {
		actx.Release()
		return nil, fmt.Errorf("pcsc: reader index %d out of range", idx)
	}

	card, err := connectReader(actx, readers[idx])
	if err != nil {
		actx.Release()
		return nil, err
	}

	return &Conn{ctx: actx, card: card, reader: readers[idx]}, nil
}

func connectReader(actx *scard.Context, reader string) (*scard.Card, error) {
	card, err := actx.Connect(reader, scard.ShareExclusive, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		card, err = actx.Connect(reader, scard.ShareDirect, scard.ProtocolUndefined)
		if err != nil {
			return nil, fmt.Errorf("pcsc: connect %s: %w", reader, err)
		}
	}
	return card, nil
}

func firmware(card *scard.Card) (string, error) {
	cmd := []byte{0xff, 0x00, 0x48, 0x00, 0x00}
	resp, err := transmitRaw(card, cmd)
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// transmitRaw issues cmd verbatim (no wrap, no two-step response), used for
// the firmware probe which is itself already a properly formed escape APDU.
func transmitRaw(card *scard.Card, cmd []byte) ([]byte, error) {
	status, err := card.Status()
	if err == nil && status.ActiveProtocol == scard.ProtocolUndefined {
		return card.Control(ioctlCCIDEscape, cmd)
	}
	return card.Transmit(cmd)
}

// Conn implements transport.Conn over one connected PC/SC card handle.
type Conn struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
	resp   []byte
}

func (c *Conn) String() string { return name + ":" + c.reader }

// Send wraps frame as FF 00 00 00 LEN <frame> and transmits it. On a T=0
// reader the card answers 61 XX (more data available); Send performs the
// FF C0 00 00 XX "get response" immediately and buffers the reply for the
// next Receive, matching acr122_transceive's two-step dance.
func (c *Conn) Send(ctx context.Context, f []byte) error {
	if len(f) > 255 {
		return fmt.Errorf("pcsc: frame too long for APDU wrap: %d bytes", len(f))
	}
	wrapped := make([]byte, 0, 5+len(f))
	wrapped = append(wrapped, 0xff, 0x00, 0x00, 0x00, byte(len(f)))
	wrapped = append(wrapped, f...)

	status, err := c.card.Status()
	direct := err == nil && status.ActiveProtocol == scard.ProtocolUndefined

	var resp []byte
	if direct {
		resp, err = c.card.Control(ioctlCCIDEscape, wrapped)
	} else {
		resp, err = c.card.Transmit(wrapped)
	}
	if err != nil {
		return mapSCardErr(err)
	}

	if !direct && len(resp) == 2 && resp[0] == 0x61 {
		getResp := []byte{0xff, 0xc0, 0x00, 0x00, resp[1]}
		resp, err = c.card.Transmit(getResp)
		if err != nil {
			return mapSCardErr(err)
		}
	}

	// Strip the emulated APDU trailer (D5 4B .. .. .. 90 00) the reader
	// appends; the last two bytes are always the status word.
	if len(resp) < 2 {
		return fmt.Errorf("pcsc: short response")
	}
	c.resp = append(c.resp[:0], resp[:len(resp)-2]...)
	return nil
}

// Receive returns the frame buffered by the most recent Send. PC/SC has no
// independent asynchronous read path, so a Receive with no prior Send
// blocks until ctx is done.
func (c *Conn) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	if c.resp == nil {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	n := copy(buf, c.resp)
	c.resp = nil
	return n, nil
}

// Abort has no PC/SC-level equivalent; a blocked Receive is already only
// waiting on ctx.Done, so Abort's cancellation of that context is
// sufficient and this is a no-op.
func (c *Conn) Abort() {}

func (c *Conn) Close() error {
	err := c.card.Disconnect(scard.LeaveCard)
	c.ctx.Release()
	return err
}

func mapSCardErr(err error) error {
	return fmt.Errorf("pcsc: %w", err)
}
