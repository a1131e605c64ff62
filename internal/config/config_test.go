package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSearchPathDefaultsToCwd(t *testing.T) {
	t.Setenv("STREAM_PROTOCOL_PATH", "")
	sp := LoadSearchPath()
	require.Equal(t, SearchPath{"."}, sp)
}

func TestLoadSearchPathSplitsOnSeparator(t *testing.T) {
	joined := "/etc/streamdrive" + pathListSeparator + "/opt/streamdrive/protocols"
	t.Setenv("STREAM_PROTOCOL_PATH", joined)
	sp := LoadSearchPath()
	require.Equal(t, SearchPath{"/etc/streamdrive", "/opt/streamdrive/protocols"}, sp)
}

func TestSearchPathResolveFindsFirstMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thermo.proto"), []byte("p{}"), 0o644))

	sp := SearchPath{t.TempDir(), dir}
	got, err := sp.Resolve("thermo.proto")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "thermo.proto"), got)
}

func TestSearchPathResolveMissing(t *testing.T) {
	sp := SearchPath{t.TempDir()}
	_, err := sp.Resolve("missing.proto")
	require.Error(t, err)
}

func TestLoadRegistryParsesChannels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	yamlContent := `
channels:
  scope1:
    kind: serial
    device: /dev/ttyUSB0
    baud: 9600
  plc1:
    kind: tcp
    address: 10.0.0.5:4001
  miner1:
    kind: usb
    vendorId: "0x10c4"
    productId: "0xea60"
    interfaceNum: 0
    endpointOut: 1
    endpointIn: 129
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	e, ok := reg.Channel("scope1")
	require.True(t, ok)
	require.Equal(t, KindSerial, e.Kind)
	require.Equal(t, "/dev/ttyUSB0", e.Device)
	require.Equal(t, 9600, e.Baud)

	e, ok = reg.Channel("plc1")
	require.True(t, ok)
	require.Equal(t, KindTCP, e.Kind)
	require.Equal(t, "10.0.0.5:4001", e.Address)

	e, ok = reg.Channel("miner1")
	require.True(t, ok)
	require.Equal(t, KindUSB, e.Kind)
	require.Equal(t, 1, e.EndpointOut)
	require.Equal(t, 129, e.EndpointIn)

	_, ok = reg.Channel("nonexistent")
	require.False(t, ok)
}
