package pn53x

import (
	"context"

	"github.com/dotside-studios/pn53x/bitframe"
	"github.com/dotside-studios/pn53x/command"
)

// TargetConfig describes the tag this device should emulate when placed in
// target mode via TargetInit.
type TargetConfig struct {
	// ModeMask restricts which roles the chip may accept: passive-only,
	// DEP-only, or PICC-only, encoded per the datasheet's Mode byte.
	ModeMask byte
	// MifareParams is SENS_RES[2] NFCID1[3] SEL_RES[1].
	MifareParams []byte
	// FeliCaParams is NFCID2[8] Pad[8] SystemCode[2].
	FeliCaParams []byte
	NFCID3t         []byte
	GeneralBytes    []byte
	HistoricalBytes []byte
}

func (c TargetConfig) encode() []byte {
	args := make([]byte, 0, 1+6+18+10+1+len(c.GeneralBytes)+1+len(c.HistoricalBytes))
	args = append(args, c.ModeMask)
	args = append(args, padTo(c.MifareParams, 6)...)
	args = append(args, padTo(c.FeliCaParams, 18)...)
	args = append(args, padTo(c.NFCID3t, 10)...)
	args = append(args, byte(len(c.GeneralBytes)))
	args = append(args, c.GeneralBytes...)
	args = append(args, byte(len(c.HistoricalBytes)))
	args = append(args, c.HistoricalBytes...)
	return args
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// TargetInit places the chip into target (card emulation) mode and blocks
// until a reader activates it, Abort is called, or the CommandMs timeout
// elapses (it then returns Timeout, like any other command). State rule 3 applies:
// CRC and parity handling are forced on regardless of prior configuration,
// and RF is dropped before entering target mode.
//
// The returned activation byte encodes the negotiated baud rate (low
// bits), whether ISO 14443-4 was selected (bit 3), and whether DEP was
// negotiated (bit 2), per §8 law 10.
func (d *Device) TargetInit(ctx context.Context, cfg TargetConfig) (activation byte, firstCommand []byte, err error) {
	if err := d.Configure(ctx, HandleCrc, true); err != nil {
		return 0, nil, err
	}
	if err := d.Configure(ctx, HandleParity, true); err != nil {
		return 0, nil, err
	}
	if err := d.Configure(ctx, ActivateField, false); err != nil {
		return 0, nil, err
	}

	resp, err := command.TgInitAsTarget(ctx, d, cfg.encode())
	if err != nil {
		if IsAbortedErr(err) {
			_ = d.Idle(context.Background())
		}
		return 0, nil, err
	}
	if len(resp) < 1 {
		return 0, nil, newError(ProtocolError, "TargetInit", nil)
	}
	return resp[0], resp[1:], nil
}

// IsAbortedErr reports whether err is a pn53x.Error with Kind Aborted.
func IsAbortedErr(err error) bool {
	pe, ok := err.(*Error)
	return ok && pe.Kind == Aborted
}

// TargetSendBytes answers the remote initiator with data, dispatching
// TgResponseToInitiator when the chip is handling ISO14443-4/DEP framing
// (auto_iso14443_4 on) or TgSetData otherwise.
func (d *Device) TargetSendBytes(ctx context.Context, data []byte) error {
	if d.autoIso144434 {
		return command.TgResponseToInitiator(ctx, d, data)
	}
	return command.TgSetData(ctx, d, data)
}

// TargetReceiveBytes blocks until the remote initiator sends data, until
// Abort is called (in which case it returns Aborted and re-idles the chip
// before returning), or until the CommandMs timeout elapses (Timeout).
func (d *Device) TargetReceiveBytes(ctx context.Context) ([]byte, error) {
	var resp []byte
	var err error
	if d.autoIso144434 {
		resp, err = command.TgGetInitiatorCommand(ctx, d)
	} else {
		resp, err = command.TgGetData(ctx, d)
	}
	if err != nil {
		if IsAbortedErr(err) {
			_ = d.Idle(context.Background())
		}
		return nil, err
	}
	return resp, nil
}

// TargetSendBits wraps data+parity with the bit-frame codec and answers
// the initiator via TgSetData's raw path.
func (d *Device) TargetSendBits(ctx context.Context, data, parity []byte, bitCount int) error {
	wrapped := make([]byte, bitframe.WrappedLen(bitCount))
	_, lastBits, err := bitframe.Wrap(data, parity, bitCount, wrapped)
	if err != nil {
		return newError(InvalidArgument, "TargetSendBits", err)
	}
	if err := d.setTxLastBits(ctx, lastBits); err != nil {
		return err
	}
	return command.TgSetData(ctx, d, wrapped)
}

// TargetReceiveBits blocks for the initiator's next raw bit-level command
// and unwraps it via the bit-frame codec.
func (d *Device) TargetReceiveBits(ctx context.Context) (data, parity []byte, bitCount int, err error) {
	resp, err := command.TgGetData(ctx, d)
	if err != nil {
		return nil, nil, 0, err
	}
	rxLastBits, err := command.GetRegister(ctx, d, command.RegCIUControl)
	if err != nil {
		return nil, nil, 0, err
	}
	residual := int(rxLastBits & command.SymbolRxLastBits)
	totalBits := (len(resp)-1)*8 + residual
	if residual == 0 {
		totalBits = len(resp) * 8
	}
	data = make([]byte, bitframe.UnwrappedLen(totalBits))
	parity = make([]byte, len(data))
	n, err := bitframe.Unwrap(resp, totalBits, data, parity)
	if err != nil {
		return nil, nil, 0, newError(ProtocolError, "TargetReceiveBits", err)
	}
	return data, parity, n, nil
}
