package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sunbk201/rulegate/internal/metrics"
	"github.com/sunbk201/rulegate/internal/sniff"
)

const readBufferSize = 64 * 1024

// serveConn reads requests off one client connection until it closes, a
// request asks for close, or a request fails.
func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	src := c.RemoteAddr().String()
	br := bufio.NewReaderSize(c, readBufferSize)
	for {
		if s.Cfg.IdleTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.Cfg.IdleTimeout))
		}
		isHTTP, err := sniff.SniffHTTP(br)
		if errors.Is(err, sniff.ErrLineTooLong) {
			s.Metrics.RequestsTotal.WithLabelValues("other", metrics.OutcomeBadRequest).Inc()
			writeStatus(c, http.StatusRequestURITooLong, err.Error())
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("sniff.SniffHTTP", slog.String("src", src), slog.Any("error", err))
			}
			return
		}
		if !isHTTP {
			s.Metrics.RequestsTotal.WithLabelValues("other", metrics.OutcomeBadRequest).Inc()
			writeStatus(c, http.StatusBadRequest, "not an HTTP/1.x request")
			return
		}
		raw, err := sniff.ReadRawHeaders(br)
		if err != nil {
			code := http.StatusBadRequest
			if errors.Is(err, sniff.ErrHeaderTooLarge) {
				code = http.StatusRequestHeaderFieldsTooLarge
			}
			s.Metrics.RequestsTotal.WithLabelValues("other", metrics.OutcomeBadRequest).Inc()
			writeStatus(c, code, err.Error())
			return
		}
		_ = c.SetReadDeadline(time.Time{})

		hreq, err := http.ReadRequest(br)
		if err != nil {
			s.Metrics.RequestsTotal.WithLabelValues("other", metrics.OutcomeBadRequest).Inc()
			writeStatus(c, http.StatusBadRequest, err.Error())
			return
		}
		hreq.RemoteAddr = src

		if hreq.Method == http.MethodConnect {
			s.tunnel(ctx, c, br, hreq)
			return
		}
		if !s.proxy(ctx, c, hreq, raw) {
			return
		}
	}
}

// writeStatus answers with a short plain text error and asks the client to
// close.
func writeStatus(w io.Writer, code int, msg string) {
	body := http.StatusText(code)
	if msg != "" {
		body += ": " + msg
	}
	body += "\n"
	res := &http.Response{
		StatusCode:    code,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
	}
	_ = res.Write(w)
}
