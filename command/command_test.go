package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTransceiver struct {
	resp []byte
	err  error
	sent []byte
}

func (f *fakeTransceiver) Transceive(ctx context.Context, payload []byte) ([]byte, error) {
	f.sent = payload
	return f.resp, f.err
}

func TestDoVerifiesResponseCode(t *testing.T) {
	ft := &fakeTransceiver{resp: []byte{CmdGetFirmwareVersion + 1, 0x32, 0x01, 0x06, 0x07}}
	resp, err := Do(context.Background(), ft, CmdGetFirmwareVersion, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x32, 0x01, 0x06, 0x07}, resp)
	require.Equal(t, []byte{CmdGetFirmwareVersion}, ft.sent)
}

func TestDoRejectsMismatchedResponseCode(t *testing.T) {
	ft := &fakeTransceiver{resp: []byte{0x00}}
	_, err := Do(context.Background(), ft, CmdGetFirmwareVersion, nil)
	require.Error(t, err)
}

func TestDoRejectsEmptyResponse(t *testing.T) {
	ft := &fakeTransceiver{resp: nil}
	_, err := Do(context.Background(), ft, CmdGetFirmwareVersion, nil)
	require.Error(t, err)
}

func TestGetRegisterEncodesAddress(t *testing.T) {
	ft := &fakeTransceiver{resp: []byte{CmdGetRegister + 1, 0x5a}}
	v, err := GetRegister(context.Background(), ft, RegCIUBitFraming)
	require.NoError(t, err)
	require.Equal(t, byte(0x5a), v)
	require.Equal(t, []byte{CmdGetRegister, 0x63, 0x3d}, ft.sent)
}

func TestInDataExchangePrependsTargetNumber(t *testing.T) {
	ft := &fakeTransceiver{resp: []byte{CmdInDataExchange + 1, 0x00, 0x90, 0x00}}
	resp, err := InDataExchange(context.Background(), ft, 1, []byte{0x00, 0xb0, 0x00, 0x00})
	require.NoError(t, err)
	require.Equal(t, []byte{0x90, 0x00}, resp)
	require.Equal(t, []byte{CmdInDataExchange, 0x01, 0x00, 0xb0, 0x00, 0x00}, ft.sent)
}

func TestInDataExchangeRejectsMissingStatusByte(t *testing.T) {
	ft := &fakeTransceiver{resp: []byte{CmdInDataExchange + 1}}
	_, err := InDataExchange(context.Background(), ft, 1, nil)
	require.Error(t, err)
}
