package bitframe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func oddParity(b byte) byte {
	p := byte(1)
	for i := 0; i < 8; i++ {
		p ^= (b >> uint(i)) & 1
	}
	return p
}

func TestMirrorInvolution(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		require.Equal(t, b, mirror(mirror(b)), "mirror must be its own inverse for %#x", b)
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	data := []byte{0x93, 0x20}
	parity := []byte{oddParity(data[0]), oddParity(data[1])}
	bitCount := len(data) * 8

	out := make([]byte, WrappedLen(bitCount))
	outBits, lastBits, err := Wrap(data, parity, bitCount, out)
	require.NoError(t, err)
	require.Equal(t, bitCount+bitCount/8, outBits)
	require.Equal(t, uint8(0), lastBits)

	recoveredData := make([]byte, len(data))
	recoveredParity := make([]byte, len(data))
	n, err := Unwrap(out, outBits, recoveredData, recoveredParity)
	require.NoError(t, err)
	require.Equal(t, bitCount, n)
	require.Equal(t, data, recoveredData)
	require.Equal(t, parity, recoveredParity)
}

func TestWrapShortFrameSpecialCase(t *testing.T) {
	data := []byte{0x0f}
	parity := []byte{1}
	out := make([]byte, 1)
	outBits, lastBits, err := Wrap(data, parity, 4, out)
	require.NoError(t, err)
	require.Equal(t, 4, outBits)
	require.Equal(t, uint8(4), lastBits)
	require.Equal(t, byte(0x0f), out[0])
}

func TestUnwrapShortFrameSpecialCase(t *testing.T) {
	in := []byte{0x0f}
	data := make([]byte, 1)
	n, err := Unwrap(in, 4, data, nil)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, byte(0x0f), data[0])
}

func TestWrapZeroLength(t *testing.T) {
	_, _, err := Wrap(nil, nil, 0, nil)
	require.Error(t, err)
}

func TestUnwrapZeroLength(t *testing.T) {
	_, err := Unwrap(nil, 0, nil, nil)
	require.Error(t, err)
}
