package seedkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asamint/goxcp"
)

func TestDeriverFuncAdaptsPlainFunction(t *testing.T) {
	var d Deriver = DeriverFunc(func(privilege xcp.Resource, seed []byte) ([]byte, error) {
		out := make([]byte, len(seed))
		for i, b := range seed {
			out[i] = b ^ 0xFF
		}
		return out, nil
	})
	key, err := d.ComputeKey(xcp.ResourceCalPag, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0xFD}, key)
}

func TestNewNativeLibraryRejectsMissingFile(t *testing.T) {
	_, err := NewNativeLibrary("/nonexistent/path/to/driver.so")
	require.Error(t, err)
	var snk *xcp.SeedNKeyError
	assert.ErrorAs(t, err, &snk)
}

func TestSpawnerComputeKeyParsesHexStdout(t *testing.T) {
	s := NewSpawner("/bin/sh", "-c", "printf deadbeef")
	key, err := s.ComputeKey(xcp.ResourceDaq, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, key)
}

func TestSpawnerComputeKeyRejectsOddLengthHex(t *testing.T) {
	s := NewSpawner("/bin/sh", "-c", "printf abc")
	_, err := s.ComputeKey(xcp.ResourceDaq, []byte{0x01})
	require.Error(t, err)
	var snk *xcp.SeedNKeyError
	assert.ErrorAs(t, err, &snk)
}

func TestSpawnerComputeKeyReportsProcessFailure(t *testing.T) {
	s := NewSpawner("/bin/false")
	_, err := s.ComputeKey(xcp.ResourceDaq, []byte{0x01})
	require.Error(t, err)
	var snk *xcp.SeedNKeyError
	assert.ErrorAs(t, err, &snk)
}

func TestDecodeHexAndNibble(t *testing.T) {
	out, err := decodeHex([]byte("0aFf"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0xff}, out)

	_, err = decodeHex([]byte("abc"))
	assert.Error(t, err)

	_, err = decodeHex([]byte("zz"))
	assert.Error(t, err)
}
