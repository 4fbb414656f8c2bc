package pn53xconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "libnfc.conf")
	devDir := filepath.Join(dir, "devices.d")
	require.NoError(t, os.Mkdir(devDir, 0o755))
	writeFile(t, confPath, "log_level = 1\n")

	w, err := NewWatcher(confPath, devDir)
	require.NoError(t, err)
	defer w.Close()

	require.Equal(t, LogLevel(1), w.Current().LogLevel)

	writeFile(t, confPath, "log_level = 5\n")

	select {
	case cfg := <-w.Updates:
		require.Equal(t, LogLevel(5), cfg.LogLevel)
	case err := <-w.Errors:
		t.Fatalf("unexpected watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
