package stream

import (
	"io"
	"log/slog"
	"net"
)

// Socket is a plugin pipe endpoint spliced into a body stream: bytes piped in
// are written to the connection and the plugin's output is read back.
type Socket struct {
	Conn   net.Conn
	Plugin string
	Dir    string
}

func NewSocket(conn net.Conn, plugin, dir string) *Socket {
	return &Socket{Conn: conn, Plugin: plugin, Dir: dir}
}

type closeWriter interface {
	CloseWrite() error
}

func (s *Socket) Pipe(src io.Reader) io.ReadCloser {
	go func() {
		_, err := io.Copy(s.Conn, src)
		if err != nil {
			slog.Debug("stream.Socket copy", slog.String("plugin", s.Plugin), slog.String("dir", s.Dir), slog.Any("error", err))
			_ = s.Conn.Close()
			return
		}
		if cw, ok := s.Conn.(closeWriter); ok {
			_ = cw.CloseWrite()
		}
	}()
	return &socketReader{conn: s.Conn}
}

// Close hangs up on the plugin without piping anything through it.
func (s *Socket) Close() error {
	return s.Conn.Close()
}

func (s *Socket) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("plugin", s.Plugin),
		slog.String("dir", s.Dir),
	)
}

// socketReader closes the connection once the plugin finishes its output,
// or when the reader is closed early.
type socketReader struct {
	conn net.Conn
}

func (r *socketReader) Read(p []byte) (int, error) {
	n, err := r.conn.Read(p)
	if err != nil {
		_ = r.conn.Close()
	}
	return n, err
}

func (r *socketReader) Close() error {
	return r.conn.Close()
}
