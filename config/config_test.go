package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleINI = `
[General]
disable_error_handling = false
max_retries = 5
stim_support = true

[Transport]
layer = ETH
timeout = 2.5
alignment = 4

[Transport.Eth]
host = 192.168.1.20
port = 5556
protocol = TCP

[Transport.Can]
bitrate = 1000000
can_id_master = 2017
can_id_slave = 2016
daq_identifier = 100,200,300
`

func writeTempINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "master.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeTempINI(t, sampleINI)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.General.MaxRetries)
	assert.True(t, cfg.General.StimSupport)

	assert.Equal(t, LayerETH, cfg.Transport.Layer)
	assert.Equal(t, 2.5, cfg.Transport.TimeoutSeconds)
	assert.Equal(t, 4, cfg.Transport.Alignment)

	assert.Equal(t, "192.168.1.20", cfg.Transport.Eth.Host)
	assert.Equal(t, 5556, cfg.Transport.Eth.Port)
	assert.Equal(t, "TCP", cfg.Transport.Eth.Protocol)

	assert.Equal(t, 1000000, cfg.Transport.Can.Bitrate)
	assert.Equal(t, []uint32{100, 200, 300}, cfg.Transport.Can.DaqIdentifier)
}

func TestLoadAppliesDefaultsForMissingKeys(t *testing.T) {
	path := writeTempINI(t, "[General]\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.General.MaxRetries)
	assert.Equal(t, LayerETH, cfg.Transport.Layer)
	assert.Equal(t, "UDP", cfg.Transport.Eth.Protocol)
	assert.Equal(t, 5555, cfg.Transport.Eth.Port)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}
