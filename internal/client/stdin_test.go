package client

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStdinPump_StartsEnabled(t *testing.T) {
	clientConn, _ := connPair(t)
	defer clientConn.Close()

	pump, err := NewStdinPump(clientConn)
	require.NoError(t, err)
	assert.True(t, pump.Enabled())
}

func TestStdinPump_EnableDisable(t *testing.T) {
	clientConn, _ := connPair(t)
	defer clientConn.Close()

	pump, err := NewStdinPump(clientConn)
	require.NoError(t, err)

	pump.Disable()
	assert.False(t, pump.Enabled())

	pump.Enable()
	assert.True(t, pump.Enabled())
}

func TestEncodeStdinFrame(t *testing.T) {
	out := encodeStdinFrame(3, []byte("abc"))
	require.Len(t, out, 7)
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(out[0:4]))
	assert.Equal(t, []byte("abc"), out[4:])
}

func TestEncodeStdinFrame_Terminator(t *testing.T) {
	out := encodeStdinFrame(0, nil)
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(out[0:4]))
	assert.Len(t, out, 4)
}
