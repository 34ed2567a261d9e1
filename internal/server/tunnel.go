package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sunbk201/rulegate/internal/metrics"
	"github.com/sunbk201/rulegate/internal/sniff"
	"github.com/sunbk201/rulegate/internal/statistics"
)

// tunnel serves a CONNECT request by relaying bytes in both directions. The
// payload is never inspected; its first bytes are only classified for the
// connection statistics.
func (s *Server) tunnel(ctx context.Context, c net.Conn, br *bufio.Reader, hreq *http.Request) {
	method := metrics.NormalizeMethod(hreq.Method)
	addr := hreq.URL.Host
	if addr == "" {
		addr = hreq.Host
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "443")
	}

	dest, err := s.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.Metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeUpstreamError).Inc()
		slog.Warn("Tunnel dial", slog.String("dest", addr), slog.Any("error", err))
		writeStatus(c, http.StatusBadGateway, "upstream dial failed")
		return
	}
	defer dest.Close()

	if _, err := io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	s.Metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeForwarded).Inc()
	s.Metrics.TunnelsOpen.Inc()
	defer s.Metrics.TunnelsOpen.Dec()

	record := &statistics.ConnectionRecord{
		Protocol:  sniff.TCP,
		SrcAddr:   c.RemoteAddr().String(),
		DestAddr:  addr,
		StartTime: time.Now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		_ = dest.Close()
	}()
	g.Go(func() error {
		_, err := io.Copy(c, dest)
		closeWrite(c)
		return copyErr("dest->client", err)
	})
	g.Go(func() error {
		proto, sni := sniff.SniffTunnel(br)
		record.Protocol = proto
		s.Metrics.TunnelsTotal.WithLabelValues(string(proto)).Inc()
		if s.Recorder != nil {
			s.Recorder.ConnectionRecordList.Open(record)
		}
		slog.Debug("Tunnel opened", slog.String("src", record.SrcAddr), slog.String("dest", addr),
			slog.String("protocol", string(proto)), slog.String("sni", sni))

		_, err := io.Copy(dest, br)
		closeWrite(dest)
		return copyErr("client->dest", err)
	})
	if err := g.Wait(); err != nil {
		slog.Debug("Tunnel closed", slog.String("dest", addr), slog.Any("error", err))
	}
	if s.Recorder != nil {
		s.Recorder.ConnectionRecordList.Close(record)
	}
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func copyErr(dir string, err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("%s: %w", dir, err)
}
