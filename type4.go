package pn53x

import "context"

// Type4Emulator is an optional APDU dispatch helper for NFC Forum Type-4
// tag emulation (scenario S6): SELECT-by-name, SELECT-by-ID and READ
// BINARY against a capability container and an NDEF file, built on top of
// TargetSendBytes/TargetReceiveBytes. It does not reimplement ISO14443-4
// framing in software — the chip handles that in hardware whenever
// auto_iso14443_4 is enabled; this type only interprets and answers the
// resulting APDUs.
type Type4Emulator struct {
	// ApplicationName is the AID compared against a SELECT-by-name
	// command's data field.
	ApplicationName []byte
	// CapabilityContainer is served verbatim (plus trailing SW) for READ
	// BINARY while the CC file is selected.
	CapabilityContainer []byte
	// NDEF is the currently selected NDEF file content, served the same
	// way. UpdateBinary mutates this slice in place.
	NDEF []byte

	currentFile type4File
}

type type4File int

const (
	type4FileNone type4File = iota
	type4FileCC
	type4FileNDEF
)

var (
	ccFileID   = [2]byte{0xe1, 0x03}
	ndefFileID = [2]byte{0xe1, 0x04}
)

const (
	iso7816Select       byte = 0xa4
	iso7816ReadBinary   byte = 0xb0
	iso7816UpdateBinary byte = 0xd6
)

// Serve runs one APDU request/response cycle: it blocks for the next
// initiator command via recv, dispatches it, and answers with send. It
// returns the error from recv/send, if any, so the caller's loop can
// distinguish "peer went away" (Aborted/ProtocolError) from a serviced
// APDU.
func (e *Type4Emulator) Serve(ctx context.Context, recv func(context.Context) ([]byte, error), send func(context.Context, []byte) error) error {
	cmd, err := recv(ctx)
	if err != nil {
		return err
	}
	return send(ctx, e.handle(cmd))
}

// handle dispatches a single raw APDU and returns the response bytes,
// including the trailing status word.
func (e *Type4Emulator) handle(apdu []byte) []byte {
	if len(apdu) < 4 {
		return []byte{0x6a, 0x00}
	}
	cla, ins, p1, p2 := apdu[0], apdu[1], apdu[2], apdu[3]
	if cla != 0x00 {
		return []byte{0x6e, 0x00}
	}

	var lc byte
	var data []byte
	if len(apdu) > 4 {
		lc = apdu[4]
		if len(apdu) >= 5+int(lc) {
			data = apdu[5 : 5+int(lc)]
		}
	}

	switch ins {
	case iso7816Select:
		return e.handleSelect(p1, p2, data)
	case iso7816ReadBinary:
		return e.handleReadBinary(p1, p2, lc)
	case iso7816UpdateBinary:
		return e.handleUpdateBinary(p1, p2, data)
	default:
		return []byte{0x6d, 0x00}
	}
}

func (e *Type4Emulator) handleSelect(p1, p2 byte, data []byte) []byte {
	switch p1 {
	case 0x00: // select by ID
		if p2|0x0c != 0x0c {
			return []byte{0x6d, 0x00}
		}
		switch {
		case len(data) == 2 && data[0] == ccFileID[0] && data[1] == ccFileID[1]:
			e.currentFile = type4FileCC
			return []byte{0x90, 0x00}
		case len(data) == 2 && data[0] == ndefFileID[0] && data[1] == ndefFileID[1]:
			e.currentFile = type4FileNDEF
			return []byte{0x90, 0x00}
		default:
			e.currentFile = type4FileNone
			return []byte{0x6a, 0x00}
		}
	case 0x04: // select by name
		if p2 != 0x00 {
			return []byte{0x6d, 0x00}
		}
		if len(data) == len(e.ApplicationName) && string(data) == string(e.ApplicationName) {
			return []byte{0x90, 0x00}
		}
		return []byte{0x6a, 0x82}
	default:
		return []byte{0x6d, 0x00}
	}
}

func (e *Type4Emulator) handleReadBinary(p1, p2, lc byte) []byte {
	offset := int(p1)<<8 | int(p2)
	var file []byte
	switch e.currentFile {
	case type4FileCC:
		file = e.CapabilityContainer
	case type4FileNDEF:
		file = e.NDEF
	default:
		return []byte{0x6a, 0x82}
	}
	if offset+int(lc) > len(file) {
		return []byte{0x6a, 0x82}
	}
	out := make([]byte, 0, int(lc)+2)
	out = append(out, file[offset:offset+int(lc)]...)
	out = append(out, 0x90, 0x00)
	return out
}

func (e *Type4Emulator) handleUpdateBinary(p1, p2 byte, data []byte) []byte {
	offset := int(p1)<<8 | int(p2)
	if e.currentFile != type4FileNDEF || offset+len(data) > len(e.NDEF) {
		return []byte{0x6a, 0x82}
	}
	copy(e.NDEF[offset:], data)
	return []byte{0x90, 0x00}
}
