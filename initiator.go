package pn53x

import (
	"context"
	"fmt"

	"github.com/dotside-studios/pn53x/bitframe"
	"github.com/dotside-studios/pn53x/command"
)

// baudModByte maps a Modulation onto the single byte InListPassiveTarget
// expects for its BrTy argument.
func baudModByte(m Modulation) (byte, error) {
	switch m.Type {
	case ModulationISO14443A:
		switch m.BaudRate {
		case Baud106, BaudUndefined:
			return 0x00, nil
		}
	case ModulationFeliCa:
		switch m.BaudRate {
		case Baud212:
			return 0x01, nil
		case Baud424:
			return 0x02, nil
		}
	case ModulationISO14443B:
		if m.BaudRate == Baud106 || m.BaudRate == BaudUndefined {
			return 0x03, nil
		}
	case ModulationJewel:
		return 0x04, nil
	}
	return 0, newError(InvalidArgument, "baudModByte", fmt.Errorf("illegal modulation/baud pair %v/%v", m.Type, m.BaudRate))
}

// InitiatorSelectPassiveTarget selects a single passive target of the
// given modulation, optionally seeding the selection with init_data (e.g.
// a known UID to reselect). It returns (nil, nil) when no target answers
// within CommandMs, per §8 law 9.
func (d *Device) InitiatorSelectPassiveTarget(ctx context.Context, mod Modulation, initData []byte) (Target, error) {
	brTy, err := baudModByte(mod)
	if err != nil {
		return nil, err
	}

	data := initData
	if mod.Type == ModulationISO14443A {
		data = rewriteCascadeUID(initData)
	}

	resp, err := command.InListPassiveTarget(ctx, d, 1, brTy, data)
	if err != nil {
		if IsTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(resp) < 1 || resp[0] == 0 {
		return nil, nil
	}
	return decodeTarget(mod, resp[1:])
}

// rewriteCascadeUID inserts the ISO14443-A cascade-tag byte (0x88) ahead of
// a 7- or 10-byte UID supplied as initiator selection data, since the chip
// expects the cascade-extended wire form, not the bare UID.
func rewriteCascadeUID(uid []byte) []byte {
	switch len(uid) {
	case 7:
		out := make([]byte, 0, 8)
		out = append(out, 0x88)
		return append(out, uid...)
	case 10:
		out := make([]byte, 0, 12)
		out = append(out, 0x88)
		out = append(out, uid[:3]...)
		out = append(out, 0x88)
		return append(out, uid[3:]...)
	default:
		return uid
	}
}

// InitiatorListPassiveTargets polls for up to len(out) targets of mod,
// returning the number found. For modulations that do not support
// deselect/re-poll within a single field cycle (FeliCa, Jewel, type B',
// SRx, CTx) only a single InListPassiveTarget call is made regardless of
// len(out).
func (d *Device) InitiatorListPassiveTargets(ctx context.Context, mod Modulation, out []Target) (int, error) {
	if err := d.Configure(ctx, InfiniteSelect, false); err != nil {
		return 0, err
	}

	singleShot := mod.Type != ModulationISO14443A && mod.Type != ModulationISO14443B
	count := 0
	for count < len(out) {
		t, err := d.InitiatorSelectPassiveTarget(ctx, mod, nil)
		if err != nil {
			return count, err
		}
		if t == nil {
			break
		}
		out[count] = t
		count++

		if singleShot {
			break
		}
		if err := command.InDeselect(ctx, d, 0); err != nil {
			break
		}
	}
	return count, nil
}

// InitiatorSelectDEPTarget performs NFCIP-1 D.E.P. activation as initiator,
// active or passive depending on active.
func (d *Device) InitiatorSelectDEPTarget(ctx context.Context, baud BaudRate, active bool, nfcid3, generalBytes []byte) (*DEPTarget, error) {
	mode := byte(0x00)
	if active {
		mode |= 0x01
	}
	var brIdx byte
	switch baud {
	case Baud106:
		brIdx = 0
	case Baud212:
		brIdx = 1
	case Baud424:
		brIdx = 2
	default:
		return nil, newError(InvalidArgument, "InitiatorSelectDEPTarget", nil)
	}

	next := byte(0x00)
	args := []byte{mode, brIdx, next}
	if len(nfcid3) > 0 {
		args[2] |= 0x02
		args = append(args, nfcid3...)
	}
	if len(generalBytes) > 0 {
		args[2] |= 0x04
		args = append(args, byte(len(generalBytes)))
		args = append(args, generalBytes...)
	}

	resp, err := command.InJumpForDEP(ctx, d, args)
	if err != nil {
		if IsTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeDEPTarget(baud, resp)
}

// InitiatorDeselectTarget deselects the currently selected target without
// releasing the RF field.
func (d *Device) InitiatorDeselectTarget(ctx context.Context) error {
	return command.InDeselect(ctx, d, 0)
}

// InitiatorReleaseTarget releases the currently selected target and its RF
// field entirely.
func (d *Device) InitiatorReleaseTarget(ctx context.Context) error {
	return command.InRelease(ctx, d, 0)
}

// InitiatorPollTargets asks the chip to autonomously poll across several
// modulations up to pollNr times, waiting period*150ms between attempts.
func (d *Device) InitiatorPollTargets(ctx context.Context, mods []Modulation, pollNr, period byte, out []Target) (int, error) {
	types := make([]byte, 0, len(mods))
	for _, m := range mods {
		b, err := baudModByte(m)
		if err != nil {
			return 0, err
		}
		types = append(types, b)
	}
	resp, err := command.InAutoPoll(ctx, d, pollNr, period, types)
	if err != nil {
		if IsTimeout(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(resp) < 1 {
		return 0, nil
	}
	n := int(resp[0])
	if n > len(out) {
		n = len(out)
	}
	pos := 1
	for i := 0; i < n && pos < len(resp); i++ {
		if pos+2 > len(resp) {
			break
		}
		brTy := resp[pos]
		tgDataLen := int(resp[pos+1])
		pos += 2
		if pos+tgDataLen > len(resp) {
			break
		}
		mod := modulationFromByte(brTy)
		t, derr := decodeTarget(mod, resp[pos:pos+tgDataLen])
		pos += tgDataLen
		if derr != nil {
			continue
		}
		out[i] = t
	}
	return n, nil
}

func modulationFromByte(b byte) Modulation {
	switch b {
	case 0x00:
		return Modulation{Type: ModulationISO14443A, BaudRate: Baud106}
	case 0x01:
		return Modulation{Type: ModulationFeliCa, BaudRate: Baud212}
	case 0x02:
		return Modulation{Type: ModulationFeliCa, BaudRate: Baud424}
	case 0x03:
		return Modulation{Type: ModulationISO14443B, BaudRate: Baud106}
	case 0x04:
		return Modulation{Type: ModulationJewel, BaudRate: Baud106}
	default:
		return Modulation{Type: ModulationISO14443A, BaudRate: Baud106}
	}
}

// InitiatorTransceiveBytes exchanges application data with the currently
// selected target. If easy_framing is enabled, it dispatches
// InDataExchange; otherwise it dispatches InCommunicateThru.
func (d *Device) InitiatorTransceiveBytes(ctx context.Context, tx []byte) ([]byte, error) {
	if d.easyFraming {
		return command.InDataExchange(ctx, d, 1, tx)
	}
	return command.InCommunicateThru(ctx, d, tx)
}

// InitiatorTransceiveBytesTimed behaves like InitiatorTransceiveBytes but
// additionally returns a cycle count read from the chip's timer register.
// EasyFraming must be false, per §4.5.
func (d *Device) InitiatorTransceiveBytesTimed(ctx context.Context, tx []byte) (rx []byte, cycles uint16, err error) {
	if d.easyFraming {
		return nil, 0, newError(InvalidArgument, "InitiatorTransceiveBytesTimed", nil)
	}
	rx, err = command.InCommunicateThru(ctx, d, tx)
	if err != nil {
		return nil, 0, err
	}
	hi, err := command.GetRegister(ctx, d, 0x6152)
	if err != nil {
		return rx, 0, nil
	}
	lo, err := command.GetRegister(ctx, d, 0x6153)
	if err != nil {
		return rx, 0, nil
	}
	return rx, uint16(hi)<<8 | uint16(lo), nil
}

// InitiatorTransceiveBits exchanges a raw bit stream (with explicit
// parity) via the bit-frame codec and InCommunicateThru, managing the
// TxLastBits/RxLastBits registers per §4.4/§4.5.
func (d *Device) InitiatorTransceiveBits(ctx context.Context, tx, txParity []byte, txBits int) (rx, rxParity []byte, rxBits int, err error) {
	if err := d.setTxLastBits(ctx, uint8(txBits%8)); err != nil {
		return nil, nil, 0, err
	}

	wrapped := make([]byte, bitframe.WrappedLen(txBits))
	_, _, err = bitframe.Wrap(tx, txParity, txBits, wrapped)
	if err != nil {
		return nil, nil, 0, newError(InvalidArgument, "InitiatorTransceiveBits", err)
	}

	resp, err := command.InCommunicateThru(ctx, d, wrapped)
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

	rx = make([]byte, bitframe.UnwrappedLen(totalBits))
	rxParity = make([]byte, len(rx))
	n, err := bitframe.Unwrap(resp, totalBits, rx, rxParity)
	if err != nil {
		return nil, nil, 0, newError(ProtocolError, "InitiatorTransceiveBits", err)
	}
	return rx, rxParity, n, nil
}

// InitiatorTransceiveBitsTimed behaves like InitiatorTransceiveBits but
// additionally returns a cycle count; EasyFraming must be false.
func (d *Device) InitiatorTransceiveBitsTimed(ctx context.Context, tx, txParity []byte, txBits int) (rx, rxParity []byte, rxBits int, cycles uint16, err error) {
	if d.easyFraming {
		return nil, nil, 0, 0, newError(InvalidArgument, "InitiatorTransceiveBitsTimed", nil)
	}
	rx, rxParity, rxBits, err = d.InitiatorTransceiveBits(ctx, tx, txParity, txBits)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	hi, err := command.GetRegister(ctx, d, 0x6152)
	if err != nil {
		return rx, rxParity, rxBits, 0, nil
	}
	lo, err := command.GetRegister(ctx, d, 0x6153)
	if err != nil {
		return rx, rxParity, rxBits, 0, nil
	}
	return rx, rxParity, rxBits, uint16(hi)<<8 | uint16(lo), nil
}

func (d *Device) setTxLastBits(ctx context.Context, bits uint8) error {
	if d.lastTxBits == bits {
		return nil
	}
	if err := d.setRegisterMasked(ctx, command.RegCIUBitFraming, command.SymbolTxLastBits, bits); err != nil {
		return err
	}
	d.lastTxBits = bits
	return nil
}
