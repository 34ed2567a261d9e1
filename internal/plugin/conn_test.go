package plugin

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnPairHalfClose(t *testing.T) {
	a, b := newConnPair("p")

	go func() {
		_, _ = a.Write([]byte("ping"))
		_ = a.CloseWrite()
	}()

	in, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(in))

	// a can still read after closing its write side.
	go func() {
		_, _ = b.Write([]byte("pong"))
		_ = b.Close()
	}()
	out, err := io.ReadAll(a)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(out))

	assert.Equal(t, "p", a.RemoteAddr().String())
	assert.Equal(t, "pipe", b.LocalAddr().Network())
	assert.ErrorIs(t, a.SetDeadline(time.Now()), os.ErrNoDeadline)
}
