package plugin

import (
	"io"
	"net"
	"os"
	"time"
)

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

// pipeConn is one end of an in-memory full-duplex connection whose write
// side can be closed on its own, which net.Pipe does not allow.
type pipeConn struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	local  pipeAddr
	remote pipeAddr
}

// newConnPair returns the two ends of a connection.
func newConnPair(name string) (*pipeConn, *pipeConn) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := &pipeConn{r: ar, w: aw, local: pipeAddr("stage"), remote: pipeAddr(name)}
	b := &pipeConn{r: br, w: bw, local: pipeAddr(name), remote: pipeAddr("stage")}
	return a, b
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *pipeConn) CloseWrite() error {
	return c.w.Close()
}

func (c *pipeConn) Close() error {
	_ = c.w.Close()
	return c.r.Close()
}

// CloseWithError makes the peer's reads fail with err.
func (c *pipeConn) CloseWithError(err error) {
	_ = c.w.CloseWithError(err)
	_ = c.r.CloseWithError(err)
}

func (c *pipeConn) LocalAddr() net.Addr  { return c.local }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }

func (c *pipeConn) SetDeadline(time.Time) error      { return os.ErrNoDeadline }
func (c *pipeConn) SetReadDeadline(time.Time) error  { return os.ErrNoDeadline }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return os.ErrNoDeadline }
