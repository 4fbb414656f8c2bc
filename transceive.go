package pn53x

import (
	"context"

	"go.uber.org/zap"

	"github.com/dotside-studios/pn53x/command"
	"github.com/dotside-studios/pn53x/frame"
)

// Transceive implements command.Transceiver: it frames payload (a command
// code followed by its arguments, without the TFI), sends it, and returns
// the decoded response payload (response code + status + data, unstripped
// — command.Do strips the response code itself).
//
// Per §5's ordering guarantee, an ACK read where a response was expected is
// consumed transparently: L0 drivers forward raw bytes and do not know the
// difference between an ACK and a real response, so this loop re-reads
// until a non-ACK frame arrives or the command timeout elapses.
func (d *Device) Transceive(ctx context.Context, payload []byte) ([]byte, error) {
	if !d.active {
		return nil, d.recordErr(newError(NoDevice, "Transceive", nil))
	}

	n, err := frame.Encode(frame.TFIHostToChip, payload, d.txBuf[:])
	if err != nil {
		return nil, d.recordErr(newError(InvalidArgument, "Transceive", err))
	}

	ctx, cancel := d.withCommandTimeout(ctx)
	defer cancel()

	d.beginAbortable(cancel)
	defer d.endAbortable()

	if err := d.conn.Send(ctx, d.txBuf[:n]); err != nil {
		return nil, d.recordErr(newError(Io, "Transceive", err))
	}

	resp, err := d.receiveFrame(ctx, true)
	if err != nil {
		return nil, err
	}
	return d.verifyStatus(resp)
}

// receiveFrame reads and decodes frames from the transport until a
// KindResponse frame is found, optionally retrying once on a checksum
// failure (§7 propagation policy: one automatic re-read, a second failure
// in a row surfaces).
func (d *Device) receiveFrame(ctx context.Context, allowChecksumRetry bool) (frame.Frame, error) {
	for {
		n, err := d.conn.Receive(ctx, d.rxBuf[:], d.commandTimeout)
		if err != nil {
			if ctx.Err() != nil {
				if ctx.Err() == context.Canceled {
					d.logger.Debug("transceive aborted")
					return frame.Frame{}, d.recordErr(newError(Aborted, "Transceive", nil))
				}
				return frame.Frame{}, d.recordErr(newError(Timeout, "Transceive", nil))
			}
			return frame.Frame{}, d.recordErr(newError(Io, "Transceive", err))
		}

		f, err := frame.Decode(d.rxBuf[:n])
		if err != nil {
			if frame.IsChecksumError(err) && allowChecksumRetry {
				d.logger.Debug("checksum error, retrying once", zap.Error(err))
				allowChecksumRetry = false
				continue
			}
			if frame.IsChecksumError(err) {
				return frame.Frame{}, d.recordErr(newError(ChecksumError, "Transceive", err))
			}
			return frame.Frame{}, d.recordErr(newError(ProtocolError, "Transceive", err))
		}

		switch f.Kind {
		case frame.KindAck:
			continue
		case frame.KindNack:
			return frame.Frame{}, d.recordErr(newError(ProtocolError, "Transceive", nil))
		default:
			if f.TFI != frame.TFIChipToHost {
				return frame.Frame{}, d.recordErr(newError(ProtocolError, "Transceive", nil))
			}
			return f, nil
		}
	}
}

// statusBearingResponseCodes lists the chip response codes (request
// command byte + 1) whose second payload byte is a status byte, per the
// command table in original_source. Most commands (GetRegister,
// SetRegister, SetParameters, RFConfigure, InListPassiveTarget,
// GetFirmwareVersion) carry no status byte at all; only the data-exchange
// and target-mode commands do.
var statusBearingResponseCodes = map[byte]bool{
	command.CmdInDataExchange + 1:    true,
	command.CmdInCommunicateThru + 1: true,
	command.CmdInJumpForDEP + 1:      true,
	command.CmdTgGetData + 1:         true,
	command.CmdTgSetData + 1:         true,
	command.CmdTgGetInitiatorCmd + 1: true,
	command.CmdTgResponseToInit + 1:  true,
}

// verifyStatus checks the per-command status byte (payload[1], when the
// response code is one of statusBearingResponseCodes) and surfaces
// ChipError when its low six bits are nonzero, matching the frame decoder's
// invariant that a syntactically valid but chip-rejected response is
// always reported as an error.
func (d *Device) verifyStatus(f frame.Frame) ([]byte, error) {
	if len(f.Payload) >= 2 && statusBearingResponseCodes[f.Payload[0]] {
		status := f.Payload[1]
		if status&0x3f != 0 {
			return nil, d.recordErr(newChipError("Transceive", status&0x3f))
		}
	}
	return f.Payload, nil
}

func (d *Device) withCommandTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.commandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.commandTimeout)
}

func (d *Device) beginAbortable(cancel context.CancelFunc) {
	d.abortMu.Lock()
	defer d.abortMu.Unlock()
	d.cancelFn = cancel
	d.inFlight = true
}

func (d *Device) endAbortable() {
	d.abortMu.Lock()
	defer d.abortMu.Unlock()
	d.cancelFn = nil
	d.inFlight = false
}

// Abort unblocks an in-flight call on this handle (typically TargetInit or
// a target-mode receive), causing it to return Aborted. It is the single
// method safe to call concurrently with any other method on Device.
func (d *Device) Abort() {
	d.abortMu.Lock()
	defer d.abortMu.Unlock()
	if d.inFlight && d.cancelFn != nil {
		d.cancelFn()
		d.conn.Abort()
	}
}
