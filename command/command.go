// Package command implements the PN53x L2 command layer: one function per
// chip command, each taking a Transceiver and typed arguments, handling
// command/response code verification and status-byte decoding.
package command

import (
	"context"
	"fmt"
)

// Command and response codes, copied from the chip's documented command
// table (host-to-chip codes are even-numbered opcodes following the 0xD4
// TFI; the chip echoes code+1 with TFI 0xD5 on response).
const (
	CmdGetFirmwareVersion  byte = 0x02
	CmdGetGeneralStatus    byte = 0x04
	CmdGetRegister         byte = 0x06
	CmdSetRegister         byte = 0x08
	CmdSetParameters       byte = 0x12
	CmdRFConfigure         byte = 0x32
	CmdInJumpForDEP        byte = 0x56
	CmdInListPassiveTarget byte = 0x4a
	CmdInSelect            byte = 0x54
	CmdInDeselect          byte = 0x44
	CmdInRelease           byte = 0x52
	CmdInSetBaudRate       byte = 0x4e
	CmdInDataExchange      byte = 0x40
	CmdInCommunicateThru   byte = 0x42
	CmdInAutoPoll          byte = 0x60
	CmdTgGetData           byte = 0x86
	CmdTgSetData           byte = 0x8e
	CmdTgInitAsTarget      byte = 0x8c
	CmdTgSetGeneralBytes   byte = 0x92
	CmdTgGetInitiatorCmd   byte = 0x88
	CmdTgResponseToInit    byte = 0x90
	CmdTgGetStatus         byte = 0x8a
)

// RF configuration item identifiers understood by RFConfigure.
const (
	RFCIField             byte = 0x01
	RFCITiming            byte = 0x02
	RFCIRetryData         byte = 0x04
	RFCIRetrySelect       byte = 0x05
	RFCIAnalogTypeA106    byte = 0x0a
	RFCIAnalogTypeA212424 byte = 0x0b
	RFCIAnalogTypeB       byte = 0x0c
	RFCIAnalogType144434  byte = 0x0d
)

// SetParameters flag bits (the single PARAM_* byte).
const (
	ParamNone        byte = 0x00
	ParamNADUsed     byte = 0x01
	ParamDIDUsed     byte = 0x02
	ParamAutoATRRes  byte = 0x04
	ParamAutoRATS    byte = 0x10
	Param144434PICC  byte = 0x20
	ParamNoAmble     byte = 0x40
)

// CIU register addresses used by the cached-register facade in the root
// package.
const (
	RegCIUTxMode     uint16 = 0x6302
	RegCIURxMode     uint16 = 0x6303
	RegCIUTxAuto     uint16 = 0x6305
	RegCIUManualRCV  uint16 = 0x630d
	RegCIUStatus2    uint16 = 0x6338
	RegCIUControl    uint16 = 0x633c
	RegCIUBitFraming uint16 = 0x633d
)

const (
	SymbolTxCRCEnable  byte = 0x80
	SymbolRxCRCEnable  byte = 0x80
	SymbolRxNoError    byte = 0x08
	SymbolRxMultiple   byte = 0x04
	SymbolParityDisable byte = 0x10
	SymbolMFCrypto1On  byte = 0x08
	SymbolInitiator    byte = 0x10
	SymbolRxLastBits   byte = 0x07
	SymbolTxLastBits   byte = 0x07
)

// Transceiver sends a payload (command code plus arguments, without the
// TFI prefix) and returns the chip's response payload without the TFI
// prefix but with the leading response-code byte still in place; Do
// verifies that byte and strips it.
type Transceiver interface {
	Transceive(ctx context.Context, payload []byte) (resp []byte, err error)
}

// Do issues cmd with the given argument bytes appended, verifies the chip
// echoed cmd+1 in its response, and returns the response payload with the
// echoed command byte stripped.
func Do(ctx context.Context, t Transceiver, cmd byte, args []byte) ([]byte, error) {
	payload := make([]byte, 0, 1+len(args))
	payload = append(payload, cmd)
	payload = append(payload, args...)

	resp, err := t.Transceive(ctx, payload)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 {
		return nil, fmt.Errorf("command: empty response to 0x%02x", cmd)
	}
	if resp[0] != cmd+1 {
		return nil, fmt.Errorf("command: unexpected response code 0x%02x to command 0x%02x", resp[0], cmd)
	}
	return resp[1:], nil
}

// DoStatus is Do for commands whose response carries a status byte ahead
// of any data (InDataExchange, InCommunicateThru, TgGetData, TgSetData,
// and the D.E.P.-aware pair). The caller's Transceiver is expected to have
// already turned a nonzero status into an error, so DoStatus only needs to
// drop the now-redundant status byte.
func DoStatus(ctx context.Context, t Transceiver, cmd byte, args []byte) ([]byte, error) {
	resp, err := Do(ctx, t, cmd, args)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 {
		return nil, fmt.Errorf("command: missing status byte in response to 0x%02x", cmd)
	}
	return resp[1:], nil
}

// GetFirmwareVersion issues GetFirmwareVersion and returns the raw
// IC/Ver/Rev/Support bytes the chip reports.
func GetFirmwareVersion(ctx context.Context, t Transceiver) ([]byte, error) {
	return Do(ctx, t, CmdGetFirmwareVersion, nil)
}

// GetRegister reads a single CIU/chip register.
func GetRegister(ctx context.Context, t Transceiver, reg uint16) (byte, error) {
	args := []byte{byte(reg >> 8), byte(reg)}
	resp, err := Do(ctx, t, CmdGetRegister, args)
	if err != nil {
		return 0, err
	}
	if len(resp) < 1 {
		return 0, fmt.Errorf("command: GetRegister returned no data")
	}
	return resp[0], nil
}

// SetRegister writes value to reg as given. It performs the wire call only:
// any read-modify-write merge against the register's current value is the
// caller's job, done before value is passed in.
func SetRegister(ctx context.Context, t Transceiver, reg uint16, value byte) error {
	args := []byte{byte(reg >> 8), byte(reg), value}
	_, err := Do(ctx, t, CmdSetRegister, args)
	return err
}

// SetParameters configures the PARAM_* flag byte.
func SetParameters(ctx context.Context, t Transceiver, flags byte) error {
	_, err := Do(ctx, t, CmdSetParameters, []byte{flags})
	return err
}

// RFConfigure issues an RFConfigure command for the given configuration
// item and its raw payload bytes.
func RFConfigure(ctx context.Context, t Transceiver, item byte, data []byte) error {
	args := make([]byte, 0, 1+len(data))
	args = append(args, item)
	args = append(args, data...)
	_, err := Do(ctx, t, CmdRFConfigure, args)
	return err
}

// InListPassiveTarget polls for up to maxTargets targets of the given
// baud/modulation byte, with an optional initiator data payload (UID for
// cascade selection, or similar), returning the raw per-target TLV data
// the caller's target decoder must parse.
func InListPassiveTarget(ctx context.Context, t Transceiver, maxTargets, baudMod byte, initData []byte) ([]byte, error) {
	args := make([]byte, 0, 2+len(initData))
	args = append(args, maxTargets, baudMod)
	args = append(args, initData...)
	return Do(ctx, t, CmdInListPassiveTarget, args)
}

// InDataExchange exchanges application data with a selected target
// identified by its logical target number.
func InDataExchange(ctx context.Context, t Transceiver, targetNum byte, data []byte) ([]byte, error) {
	args := make([]byte, 0, 1+len(data))
	args = append(args, targetNum)
	args = append(args, data...)
	return DoStatus(ctx, t, CmdInDataExchange, args)
}

// InCommunicateThru bypasses ISO/NFC protocol framing and writes raw bits
// straight to the RF field.
func InCommunicateThru(ctx context.Context, t Transceiver, data []byte) ([]byte, error) {
	return DoStatus(ctx, t, CmdInCommunicateThru, data)
}

// InSelect (re)selects a target by logical number after InListPassiveTarget
// returned more than one candidate.
func InSelect(ctx context.Context, t Transceiver, targetNum byte) error {
	_, err := Do(ctx, t, CmdInSelect, []byte{targetNum})
	return err
}

// InDeselect deselects a target (targetNum 0 deselects all) without
// releasing the RF field.
func InDeselect(ctx context.Context, t Transceiver, targetNum byte) error {
	_, err := Do(ctx, t, CmdInDeselect, []byte{targetNum})
	return err
}

// InRelease releases a target and its RF field entirely.
func InRelease(ctx context.Context, t Transceiver, targetNum byte) error {
	_, err := Do(ctx, t, CmdInRelease, []byte{targetNum})
	return err
}

// InJumpForDEP performs active or passive initialization of an NFCIP-1
// D.E.P. target in one command.
func InJumpForDEP(ctx context.Context, t Transceiver, args []byte) ([]byte, error) {
	return Do(ctx, t, CmdInJumpForDEP, args)
}

// InAutoPoll asks the chip to autonomously poll for the given type list,
// pollNr times, at the given period (in 150ms units). Implemented per the
// PN532 datasheet wire format: one byte per poll type, no teacher or
// original-source grounding exists for this command's framing.
func InAutoPoll(ctx context.Context, t Transceiver, pollNr, period byte, types []byte) ([]byte, error) {
	args := make([]byte, 0, 2+len(types))
	args = append(args, pollNr, period)
	args = append(args, types...)
	return Do(ctx, t, CmdInAutoPoll, args)
}

// TgInitAsTarget places the chip into target (card emulation) mode.
func TgInitAsTarget(ctx context.Context, t Transceiver, args []byte) ([]byte, error) {
	return Do(ctx, t, CmdTgInitAsTarget, args)
}

// TgGetData retrieves the next command/data sent by the remote initiator
// while the chip is in target mode.
func TgGetData(ctx context.Context, t Transceiver) ([]byte, error) {
	return DoStatus(ctx, t, CmdTgGetData, nil)
}

// TgSetData answers the remote initiator with data while in target mode.
func TgSetData(ctx context.Context, t Transceiver, data []byte) error {
	_, err := DoStatus(ctx, t, CmdTgSetData, data)
	return err
}

// TgGetInitiatorCommand is the NFCIP-1 D.E.P. analogue of TgGetData.
func TgGetInitiatorCommand(ctx context.Context, t Transceiver) ([]byte, error) {
	return DoStatus(ctx, t, CmdTgGetInitiatorCmd, nil)
}

// TgResponseToInitiator is the NFCIP-1 D.E.P. analogue of TgSetData.
func TgResponseToInitiator(ctx context.Context, t Transceiver, data []byte) error {
	_, err := DoStatus(ctx, t, CmdTgResponseToInit, data)
	return err
}

// TgGetStatus reports the chip's current target-mode activation state.
func TgGetStatus(ctx context.Context, t Transceiver) ([]byte, error) {
	return Do(ctx, t, CmdTgGetStatus, nil)
}
