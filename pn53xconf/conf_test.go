package pn53xconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)
	require.True(t, cfg.AllowAutoscan)
	require.False(t, cfg.AllowIntrusiveScan)
	require.Equal(t, LogLevel(0), cfg.LogLevel)
}

func TestLoadBasicKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libnfc.conf")
	writeFile(t, path, "# comment\nallow_autoscan = false\nallow_intrusive_scan = true\nlog_level = 3\n\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.AllowAutoscan)
	require.True(t, cfg.AllowIntrusiveScan)
	require.Equal(t, LogLevel(3), cfg.LogLevel)
}

func TestLoadQuotedValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libnfc.conf")
	writeFile(t, path, `device.name = "ACS ACR122U PICC Interface"`+"\n"+`device.connstring = "pcsc:0"`+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.UserDefinedDevices, 1)
	require.Equal(t, "ACS ACR122U PICC Interface", cfg.UserDefinedDevices[0].Name)
	require.Equal(t, "pcsc:0", cfg.UserDefinedDevices[0].Connstring)
}

func TestLoadRepeatedDeviceNameOpensNewStanza(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libnfc.conf")
	writeFile(t, path, "device.name = reader1\ndevice.connstring = pcsc:0\ndevice.name = reader2\ndevice.connstring = pcsc:1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.UserDefinedDevices, 2)
	require.Equal(t, "reader1", cfg.UserDefinedDevices[0].Name)
	require.Equal(t, "pcsc:0", cfg.UserDefinedDevices[0].Connstring)
	require.Equal(t, "reader2", cfg.UserDefinedDevices[1].Name)
	require.Equal(t, "pcsc:1", cfg.UserDefinedDevices[1].Connstring)
}

func TestLoadConsecutiveNameLinesOpenSeparateStanzas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libnfc.conf")
	writeFile(t, path, "device.name = reader1\ndevice.name = reader2\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.UserDefinedDevices, 2)
	require.Equal(t, "reader1", cfg.UserDefinedDevices[0].Name)
	require.Equal(t, "reader2", cfg.UserDefinedDevices[1].Name)
}

func TestLoadMalformedLineSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libnfc.conf")
	writeFile(t, path, "this is not valid\nlog_level = 1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, LogLevel(1), cfg.LogLevel)
}

func TestLoadDirPrefixesDeviceKeys(t *testing.T) {
	dir := t.TempDir()
	devDir := filepath.Join(dir, "devices.d")
	require.NoError(t, os.Mkdir(devDir, 0o755))
	writeFile(t, filepath.Join(devDir, "acr122.conf"), "name = ACR122U\nconnstring = pcsc:0\n")
	writeFile(t, filepath.Join(devDir, ".hidden.conf"), "name = ignored\n")
	writeFile(t, filepath.Join(devDir, "notconf.txt"), "name = ignored\n")

	cfg := defaultConfig()
	require.NoError(t, LoadDir(devDir, cfg))
	require.Len(t, cfg.UserDefinedDevices, 1)
	require.Equal(t, "ACR122U", cfg.UserDefinedDevices[0].Name)
	require.Equal(t, "pcsc:0", cfg.UserDefinedDevices[0].Connstring)
}

func TestLoadDirMissingDirIsNotError(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, LoadDir(filepath.Join(t.TempDir(), "devices.d"), cfg))
	require.Empty(t, cfg.UserDefinedDevices)
}

func TestLogLevelFromEnv(t *testing.T) {
	t.Setenv("LIBNFC_LOG_LEVEL", "2")
	level, ok := LogLevelFromEnv()
	require.True(t, ok)
	require.Equal(t, LogLevel(2), level)
}

func TestLogLevelFromEnvUnset(t *testing.T) {
	os.Unsetenv("LIBNFC_LOG_LEVEL")
	_, ok := LogLevelFromEnv()
	require.False(t, ok)
}

func TestLogLevelForGroupFallsBackToGlobal(t *testing.T) {
	level := LogLevel(PriorityInfo) // global=info, every group unset
	require.Equal(t, PriorityInfo, level.ForGroup(GroupChip))
}

func TestLogLevelForGroupOverridesGlobal(t *testing.T) {
	// global=error, GroupChip (group 3) raised to debug: bits 6-7 = 3.
	level := LogLevel(int(PriorityError) | (int(PriorityDebug) << (int(GroupChip) * 2)))
	require.Equal(t, PriorityDebug, level.ForGroup(GroupChip))
	require.Equal(t, PriorityError, level.ForGroup(GroupCom))
	require.Equal(t, PriorityError, level.Global())
}

func TestUserDefinedDevicesCappedAtSixteen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libnfc.conf")
	var contents string
	for i := 0; i < 20; i++ {
		contents += "device.name = reader\n"
	}
	writeFile(t, path, contents)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.UserDefinedDevices, MaxUserDefinedDevices)
}
