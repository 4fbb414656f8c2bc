package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0x02} // GetFirmwareVersion command byte after TFI
	buf := make([]byte, MaxFrameLen)
	n, err := Encode(0xd4, payload, buf)
	require.NoError(t, err)

	// 00 00 FF LEN LCS TFI PD0 DCS 00
	want := []byte{0x00, 0x00, 0xff, 0x02, 0xfe, 0xd4, 0x02, 0x2a, 0x00}
	assert.Equal(t, want, buf[:n])

	f, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, KindResponse, f.Kind)
	assert.Equal(t, byte(0xd4), f.TFI)
	assert.Equal(t, payload, f.Payload)
}

func TestEncodeExtendedFrame(t *testing.T) {
	payload := make([]byte, 300)
	buf := make([]byte, MaxFrameLen+320)
	n, err := Encode(0xd4, payload, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), buf[3])
	assert.Equal(t, byte(0xff), buf[4])

	f, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, KindResponse, f.Kind)
	assert.Len(t, f.Payload, len(payload))
}

func TestAckNack(t *testing.T) {
	buf := make([]byte, 6)
	n := EncodeACK(buf)
	f, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, KindAck, f.Kind)

	n = EncodeNACK(buf)
	f, err = Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, KindNack, f.Kind)
}

func TestDecodeRejectsBadPreamble(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x00, 0xff, 0x00, 0xff, 0x00})
	assert.Error(t, err)
}

func TestDecodeRejectsBadLengthChecksum(t *testing.T) {
	raw := []byte{0x00, 0x00, 0xff, 0x02, 0x00, 0xd4, 0x02, 0x2a, 0x00}
	_, err := Decode(raw)
	require.Error(t, err)
	assert.True(t, IsChecksumError(err))
}

func TestDecodeRejectsBadDataChecksum(t *testing.T) {
	raw := []byte{0x00, 0x00, 0xff, 0x02, 0xfe, 0xd4, 0x02, 0x00, 0x00}
	_, err := Decode(raw)
	require.Error(t, err)
	assert.True(t, IsChecksumError(err))
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x00, 0xff, 0x05, 0xfb, 0xd4})
	assert.Error(t, err)
}
