package pn53x

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDevice(t *testing.T, extra func(cmd byte, args []byte) []byte) (*Device, *fakeConn) {
	t.Helper()
	conn := newFakeConn(okFirmwareHandler(extra))
	d, err := OpenWith(context.Background(), "fake", conn)
	require.NoError(t, err)
	return d, conn
}

func TestInitiatorSelectPassiveTargetNoCardFound(t *testing.T) {
	d, _ := openTestDevice(t, func(cmd byte, args []byte) []byte {
		if cmd == 0x4a { // InListPassiveTarget
			return []byte{0x4b, 0x00} // 0 targets found
		}
		return nil
	})
	d.SetTimeout(CommandMs, 50)

	tgt, err := d.InitiatorSelectPassiveTarget(context.Background(), Modulation{Type: ModulationISO14443A, BaudRate: Baud106}, nil)
	require.NoError(t, err)
	require.Nil(t, tgt)
}

func TestInitiatorSelectPassiveTargetFindsISO14443A(t *testing.T) {
	d, _ := openTestDevice(t, func(cmd byte, args []byte) []byte {
		if cmd == 0x4a {
			resp := []byte{0x4b, 0x01, 0x00, 0x04, 0x08, 0x04, 0xde, 0xad, 0xbe, 0xef}
			return resp
		}
		return nil
	})

	tgt, err := d.InitiatorSelectPassiveTarget(context.Background(), Modulation{Type: ModulationISO14443A, BaudRate: Baud106}, nil)
	require.NoError(t, err)
	require.NotNil(t, tgt)
	a, ok := tgt.(*ISO14443ATarget)
	require.True(t, ok)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, a.UID)
	require.Equal(t, byte(0x08), a.SAK)
}

func TestInitiatorSelectPassiveTargetRewritesCascadeUID(t *testing.T) {
	var seenArgs []byte
	d, _ := openTestDevice(t, func(cmd byte, args []byte) []byte {
		if cmd == 0x4a {
			seenArgs = append([]byte(nil), args...)
			return []byte{0x4b, 0x00}
		}
		return nil
	})

	uid7 := []byte{1, 2, 3, 4, 5, 6, 7}
	_, err := d.InitiatorSelectPassiveTarget(context.Background(), Modulation{Type: ModulationISO14443A, BaudRate: Baud106}, uid7)
	require.NoError(t, err)

	// args = [maxTargets, brTy, initData...]; initData must carry the 0x88
	// cascade tag ahead of a 7-byte UID.
	require.GreaterOrEqual(t, len(seenArgs), 3)
	initData := seenArgs[2:]
	require.Equal(t, byte(0x88), initData[0])
	require.Equal(t, uid7, initData[1:])
}

func TestInitiatorDeselectAndReleaseTarget(t *testing.T) {
	d, conn := openTestDevice(t, nil)
	require.NoError(t, d.InitiatorDeselectTarget(context.Background()))
	require.NoError(t, d.InitiatorReleaseTarget(context.Background()))
	require.Greater(t, conn.sendCount(), 1)
}
