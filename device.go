// Package pn53x shields callers from the PN53x binary command protocol,
// register semantics, and transport idiosyncrasies behind a single Device
// facade offering initiator and target operating roles.
package pn53x

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dotside-studios/pn53x/command"
	"github.com/dotside-studios/pn53x/frame"
	"github.com/dotside-studios/pn53x/pn53xconf"
	"github.com/dotside-studios/pn53x/transport"
)

// ChipGeneration identifies which member of the PN53x family answered
// GetFirmwareVersion.
type ChipGeneration int

const (
	ChipUnknown ChipGeneration = iota
	ChipPN531
	ChipPN532
	ChipPN533
)

func (g ChipGeneration) String() string {
	switch g {
	case ChipPN531:
		return "PN531"
	case ChipPN532:
		return "PN532"
	case ChipPN533:
		return "PN533"
	default:
		return "unknown"
	}
}

// Option names a boolean chip-behavior flag toggled by Configure.
type Option int

const (
	HandleCrc Option = iota
	HandleParity
	EasyFraming
	ActivateField
	ActivateCrypto1
	InfiniteSelect
	AutoIso14443_4
	AcceptInvalidFrames
	AcceptMultipleFrames
	ForceIso14443A
	ForceIso14443B
	ForceSpeed106
)

// TimeoutKind names one of the three user-configurable timeouts.
type TimeoutKind int

const (
	CommandMs TimeoutKind = iota
	AtrMs
	ComMs
)

// Device is an open connection to one PN53x chip. It is not safe for
// concurrent use except for the Abort method, matching the single-threaded
// cooperative concurrency model a handle represents.
type Device struct {
	conn       transport.Conn
	driverName string
	connstring string
	generation ChipGeneration
	firmware   [4]byte
	firmwareN  int
	sessionID  string
	logger     *zap.Logger
	clock      Clock

	commandTimeout time.Duration
	atrTimeout     time.Duration
	comTimeout     time.Duration

	// cached register intent (§3). These mirror chip state so repeated
	// Configure/initiator_init calls skip redundant register writes.
	crcHandledByChip    bool
	parityHandledByChip bool
	easyFraming         bool
	lastTxBits          uint8
	active              bool
	lastErr             *Error

	infiniteSelect        bool
	autoIso144434         bool
	acceptInvalidFrames   bool
	acceptMultipleFrames  bool
	forceIso14443A        bool
	forceIso14443B        bool
	forceSpeed106         bool
	activateFieldOn       bool
	activateCrypto1On     bool

	abortMu  sync.Mutex
	cancelFn context.CancelFunc
	inFlight bool

	txBuf [frame.MaxFrameLen]byte
	rxBuf [frame.MaxFrameLen]byte
}

// Option for Open: configures logging, clock injection, and timeouts at
// construction time.
type OpenOption func(*Device)

// WithLogger attaches a structured logger. The default is a no-op logger,
// so the library stays silent unless a caller opts in.
func WithLogger(logger *zap.Logger) OpenOption {
	return func(d *Device) { d.logger = logger }
}

// WithClock stores c as the device's time source. The CommandMs/AtrMs/ComMs
// timeouts do not read it: command timeouts are context deadlines on real
// time.
func WithClock(c Clock) OpenOption {
	return func(d *Device) { d.clock = c }
}

// Open resolves connstring's driver tag against the global driver registry,
// opens the underlying transport, and returns a Device with the baseline
// state rule 1 applies: chip handles CRC, chip handles parity, RF off, all
// other options at their documented defaults.
func Open(ctx context.Context, connstring string, opts ...OpenOption) (*Device, error) {
	driverTag, port, speed, err := ParseConnstring(connstring)
	if err != nil {
		return nil, err
	}
	drv, err := lookupDriver(driverTag)
	if err != nil {
		return nil, err
	}
	conn, err := drv.Open(ctx, port, speed)
	if err != nil {
		return nil, newError(mapOpenErr(err), "Open", err)
	}
	return newDevice(ctx, driverTag, connstring, conn, opts...)
}

// OpenWith wraps an already-open transport.Conn directly, bypassing driver
// lookup. Useful for tests and for callers who perform their own bus
// enumeration.
func OpenWith(ctx context.Context, driverTag string, conn transport.Conn, opts ...OpenOption) (*Device, error) {
	return newDevice(ctx, driverTag, conn.String(), conn, opts...)
}

func newDevice(ctx context.Context, driverTag, connstring string, conn transport.Conn, opts ...OpenOption) (*Device, error) {
	d := &Device{
		conn:                conn,
		driverName:          driverTag,
		connstring:          connstring,
		sessionID:           uuid.NewString(),
		logger:              zap.NewNop(),
		clock:               RealClock{},
		commandTimeout:      1000 * time.Millisecond,
		atrTimeout:          103 * time.Millisecond,
		comTimeout:          52 * time.Millisecond,
		crcHandledByChip:    true,
		parityHandledByChip: true,
		easyFraming:         true,
		active:              true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("session", d.sessionID), zap.String("driver", driverTag))

	if err := d.identify(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := command.RFConfigure(ctx, d, command.RFCIField, []byte{0x00}); err != nil {
		conn.Close()
		return nil, err
	}
	d.logger.Info("device opened", zap.String("generation", d.generation.String()))
	return d, nil
}

// OpenFirst opens the first reachable device named by cfg's user-defined
// devices, falling back to an auto-probe across every registered driver
// when cfg.AllowAutoscan is set and none of the user-defined entries
// answered, mirroring conf_load/nfc_open(NULL)'s device resolution order.
func OpenFirst(ctx context.Context, cfg *pn53xconf.Config, opts ...OpenOption) (*Device, error) {
	for _, ud := range cfg.UserDefinedDevices {
		if ud.Connstring == "" {
			continue
		}
		d, err := Open(ctx, ud.Connstring, opts...)
		if err == nil {
			return d, nil
		}
		if !ud.Optional {
			continue
		}
	}

	if !cfg.AllowAutoscan {
		return nil, newError(NoDevice, "OpenFirst", fmt.Errorf("no user-defined device answered and autoscan is disabled"))
	}

	candidates, err := ProbeAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, cs := range candidates {
		d, err := Open(ctx, cs, opts...)
		if err == nil {
			return d, nil
		}
	}
	return nil, newError(NoDevice, "OpenFirst", fmt.Errorf("no device found"))
}

func mapOpenErr(err error) ErrorKind {
	// Transport drivers return plain errors; the facade has no reliable
	// way to distinguish NoDevice/AccessDenied/Busy/InvalidArgument
	// without a typed error from the driver, so default to Io and let
	// drivers that can distinguish wrap their own *Error instead.
	if pe, ok := err.(*Error); ok {
		return pe.Kind
	}
	return Io
}

func (d *Device) identify(ctx context.Context) error {
	resp, err := command.GetFirmwareVersion(ctx, d)
	if err != nil {
		return err
	}
	d.firmwareN = copy(d.firmware[:], resp)
	switch d.firmwareN {
	case 2:
		d.generation = ChipPN531
	case 4:
		switch d.firmware[0] {
		case 0x32:
			d.generation = ChipPN532
		case 0x33:
			d.generation = ChipPN533
		default:
			d.generation = ChipPN532
		}
	default:
		d.generation = ChipUnknown
	}
	return nil
}

// Generation reports which chip family answered GetFirmwareVersion.
func (d *Device) Generation() ChipGeneration { return d.generation }

// String identifies the device for logging.
func (d *Device) String() string { return fmt.Sprintf("%s (%s)", d.connstring, d.generation) }

// LastError returns the most recent error recorded on the handle, for
// C-style callers that prefer a side-channel getter over unwrapping a
// returned error.
func (d *Device) LastError() *Error { return d.lastErr }

func (d *Device) recordErr(err error) error {
	if pe, ok := err.(*Error); ok {
		d.lastErr = pe
		if pe.Kind == NoDevice || pe.Kind == Io {
			d.active = false
		}
	}
	return err
}

// Close idles the chip (see Idle: RF off) and releases the transport. It
// sends no separate command to end a target-mode session.
func (d *Device) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.commandTimeout)
	defer cancel()
	_ = d.Idle(ctx)
	return d.conn.Close()
}

// Idle turns the RF field off and marks the handle active again. The other
// cached register values (CRC, parity, framing, TxLastBits, parameter
// flags) are neither re-read from nor re-written to the chip. An error from
// the RF command is ignored; Idle always returns nil.
func (d *Device) Idle(ctx context.Context) error {
	_ = command.RFConfigure(ctx, d, command.RFCIField, []byte{0x00})
	d.activateFieldOn = false
	d.active = true
	return nil
}

// SetTimeout configures one of the three user-configurable timeouts. 0
// means infinite.
func (d *Device) SetTimeout(kind TimeoutKind, ms int) {
	dur := time.Duration(ms) * time.Millisecond
	switch kind {
	case CommandMs:
		d.commandTimeout = dur
	case AtrMs:
		d.atrTimeout = dur
	case ComMs:
		d.comTimeout = dur
	}
}

// Configure toggles a single boolean chip-behavior Option, writing to the
// chip only when the cached value differs from value (register-cache
// invariant, §8 law 8). HandleCrc and HandleParity write CIU registers,
// ActivateField sends RFConfigure and AutoIso14443_4 sends SetParameters;
// the other options only update the cached value and send nothing.
func (d *Device) Configure(ctx context.Context, opt Option, value bool) error {
	switch opt {
	case HandleCrc:
		if d.crcHandledByChip == value {
			return nil
		}
		if err := d.writeCRCMode(ctx, value); err != nil {
			return d.recordErr(err)
		}
		d.crcHandledByChip = value
	case HandleParity:
		if d.parityHandledByChip == value {
			return nil
		}
		mask := command.SymbolParityDisable
		v := byte(0)
		if !value {
			v = mask
		}
		if err := d.setRegisterMasked(ctx, command.RegCIUManualRCV, mask, v); err != nil {
			return d.recordErr(err)
		}
		d.parityHandledByChip = value
	case EasyFraming:
		d.easyFraming = value
	case ActivateField:
		if d.activateFieldOn == value {
			return nil
		}
		item := byte(0x00)
		if value {
			item = 0x01
		}
		if err := command.RFConfigure(ctx, d, command.RFCIField, []byte{item}); err != nil {
			return d.recordErr(err)
		}
		d.activateFieldOn = value
	case ActivateCrypto1:
		d.activateCrypto1On = value
	case InfiniteSelect:
		d.infiniteSelect = value
	case AutoIso14443_4:
		if d.autoIso144434 == value {
			return nil
		}
		d.autoIso144434 = value
		if err := d.pushParameters(ctx); err != nil {
			d.autoIso144434 = !value
			return d.recordErr(err)
		}
	case AcceptInvalidFrames:
		d.acceptInvalidFrames = value
	case AcceptMultipleFrames:
		d.acceptMultipleFrames = value
	case ForceIso14443A:
		d.forceIso14443A = value
		if value {
			d.forceIso14443B = false
		}
	case ForceIso14443B:
		d.forceIso14443B = value
		if value {
			d.forceIso14443A = false
		}
	case ForceSpeed106:
		d.forceSpeed106 = value
	default:
		return newError(InvalidArgument, "Configure", nil)
	}
	return nil
}

func (d *Device) writeCRCMode(ctx context.Context, chipHandles bool) error {
	txMask := command.SymbolTxCRCEnable
	rxMask := command.SymbolRxCRCEnable
	v := byte(0)
	if chipHandles {
		v = txMask
	}
	if err := d.setRegisterMasked(ctx, command.RegCIUTxMode, txMask, v); err != nil {
		return err
	}
	v = byte(0)
	if chipHandles {
		v = rxMask
	}
	return d.setRegisterMasked(ctx, command.RegCIURxMode, rxMask, v)
}

// setRegisterMasked performs the PN53x's read-modify-write convention: read
// the current register value, clear the bits named by mask, OR in value,
// write it back.
func (d *Device) setRegisterMasked(ctx context.Context, reg uint16, mask, value byte) error {
	cur, err := command.GetRegister(ctx, d, reg)
	if err != nil {
		return err
	}
	merged := value | (cur &^ mask)
	return command.SetRegister(ctx, d, reg, merged)
}

// pushParameters recomputes the SetParameters flag byte from cached intent
// and writes it, mirroring the source's single PARAM_* byte.
func (d *Device) pushParameters(ctx context.Context) error {
	var flags byte
	if d.autoIso144434 {
		flags |= command.ParamAutoRATS | command.Param144434PICC
	}
	return command.SetParameters(ctx, d, flags)
}

// InitiatorInit forces the initiator baseline described in §4.5: RF
// off-then-on, infinite select on, auto-14443-4 on, force-A on,
// force-106 on, CRC+parity handled by chip, easy framing on, CRYPTO1 off.
func (d *Device) InitiatorInit(ctx context.Context) error {
	if err := d.Configure(ctx, ActivateField, false); err != nil {
		return err
	}
	if err := d.Configure(ctx, ActivateField, true); err != nil {
		return err
	}
	if err := d.Configure(ctx, InfiniteSelect, true); err != nil {
		return err
	}
	if err := d.Configure(ctx, AutoIso14443_4, true); err != nil {
		return err
	}
	if err := d.Configure(ctx, ForceIso14443A, true); err != nil {
		return err
	}
	if err := d.Configure(ctx, ForceSpeed106, true); err != nil {
		return err
	}
	if err := d.Configure(ctx, HandleCrc, true); err != nil {
		return err
	}
	if err := d.Configure(ctx, HandleParity, true); err != nil {
		return err
	}
	if err := d.Configure(ctx, EasyFraming, true); err != nil {
		return err
	}
	return d.Configure(ctx, ActivateCrypto1, false)
}
