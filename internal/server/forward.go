package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/metrics"
	"github.com/sunbk201/rulegate/internal/statistics"
	"github.com/sunbk201/rulegate/internal/stream"
)

// proxy runs one request through the inspection stage, forwards it and
// relays the response. It reports whether the client connection can serve
// another request.
func (s *Server) proxy(ctx context.Context, c net.Conn, hreq *http.Request, raw []string) bool {
	defer hreq.Body.Close()

	s.Metrics.RequestsInFlight.Inc()
	defer s.Metrics.RequestsInFlight.Dec()
	method := metrics.NormalizeMethod(hreq.Method)

	if hreq.URL.Host == "" && hreq.Host == "" {
		s.Metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeBadRequest).Inc()
		writeStatus(c, http.StatusBadRequest, "missing host")
		return false
	}

	req := common.NewRequest(hreq, raw, false)
	original := req.FullURL

	start := time.Now()
	if err := s.Inspector.Inspect(ctx, req); err != nil {
		s.Metrics.InspectDuration.WithLabelValues(metrics.OutcomeInspectError).Observe(time.Since(start).Seconds())
		s.Metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeInspectError).Inc()
		slog.Warn("Inspect", slog.Any("request", req), slog.Any("error", err))
		writeStatus(c, http.StatusBadGateway, "request inspection failed")
		return false
	}
	s.Metrics.InspectDuration.WithLabelValues(metrics.OutcomeForwarded).Observe(time.Since(start).Seconds())
	if req.CapturedBody != nil {
		s.Metrics.CapturedBytes.Observe(float64(len(req.CapturedBody)))
	}
	if req.FullURL != original {
		s.recordRewrite(req, original)
	}

	res, upstream, err := s.roundTrip(ctx, req, hreq.Body != http.NoBody)
	if err != nil {
		s.Metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeUpstreamError).Inc()
		slog.Warn("Upstream", slog.Any("request", req), slog.Any("error", err))
		// Unblock body readers before the deferred Close drains the body.
		_ = c.SetReadDeadline(time.Now())
		writeStatus(c, http.StatusBadGateway, "upstream request failed")
		return false
	}
	// Closing upstream first fails any stage still reading the response.
	defer res.Body.Close()
	defer upstream.Close()
	s.Metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	s.Metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(res.StatusCode)).Inc()

	keepAlive, err := s.writeResponse(ctx, c, req, hreq, res, !hreq.Close)
	if err != nil {
		s.Metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeUpstreamError).Inc()
		slog.Debug("writeResponse", slog.Any("request", req), slog.Any("error", err))
		return false
	}
	s.Metrics.RequestsTotal.WithLabelValues(method, metrics.OutcomeForwarded).Inc()
	if keepAlive {
		_, _ = io.Copy(io.Discard, hreq.Body)
	}
	slog.Debug("Request forwarded", slog.Any("request", req), slog.Int("status", res.StatusCode))
	return keepAlive
}

// roundTrip sends req to its target over a fresh connection. The body
// stages are built only once the target is reachable. The caller closes the
// returned connection after draining the response.
func (s *Server) roundTrip(ctx context.Context, req *common.Request, hasBody bool) (*http.Response, net.Conn, error) {
	applyRequestDirectives(req)
	removeHopHeaders(req.Headers)

	conn, err := s.dial(ctx, req.Options)
	if err != nil {
		return nil, nil, err
	}

	var body io.ReadCloser
	if hasBody && req.Body != nil {
		if body, err = requestBody(ctx, req); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		defer body.Close()
	}

	if err := writeRequest(bufio.NewWriter(conn), req, body); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	res, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: req.Method})
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("http.ReadResponse: %w", err)
	}
	return res, conn, nil
}

// requestBody pipes the request body through its decode and encode stages.
func requestBody(ctx context.Context, req *common.Request) (io.ReadCloser, error) {
	dec, err := req.OnDecode(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := req.OnEncode(ctx)
	if err != nil {
		stream.Release(dec)
		return nil, err
	}
	return stream.Apply(stream.Compose(dec, enc), req.Body), nil
}

func (s *Server) dial(ctx context.Context, target *url.URL) (net.Conn, error) {
	port := target.Port()
	if port == "" {
		port = "80"
		if target.Scheme == "https" {
			port = "443"
		}
	}
	addr := net.JoinHostPort(target.Hostname(), port)
	conn, err := s.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.Dialer.DialContext: %w", err)
	}
	if target.Scheme != "https" {
		return conn, nil
	}
	tc := tls.Client(conn, &tls.Config{ServerName: target.Hostname(), NextProtos: []string{"http/1.1"}})
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls.Conn.HandshakeContext: %w", err)
	}
	return tc, nil
}

// writeRequest writes the request head with every header under the casing
// the client used, followed by body. A body of unknown length is chunked.
func writeRequest(w *bufio.Writer, req *common.Request, body io.Reader) error {
	target := req.Options
	h := req.Headers
	h.Set("host", target.Host)
	chunked := body != nil && !h.Has("content-length")
	if chunked {
		h.Set("transfer-encoding", "chunked")
	}

	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", req.Method, target.RequestURI()); err != nil {
		return fmt.Errorf("writeRequest: %w", err)
	}
	for _, k := range headerOrder(h, req.RawHeaders) {
		name := common.HeaderName(req.RawHeaderNames, k)
		for _, v := range h[k] {
			if !httpguts.ValidHeaderFieldValue(v) {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", name, v); err != nil {
				return fmt.Errorf("writeRequest: %w", err)
			}
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return fmt.Errorf("writeRequest: %w", err)
	}

	if body != nil {
		if chunked {
			cw := httputil.NewChunkedWriter(w)
			if _, err := io.Copy(cw, body); err != nil {
				return fmt.Errorf("io.Copy: %w", err)
			}
			if err := cw.Close(); err != nil {
				return fmt.Errorf("httputil.chunkedWriter.Close: %w", err)
			}
			if _, err := w.WriteString("\r\n"); err != nil {
				return fmt.Errorf("writeRequest: %w", err)
			}
		} else if _, err := io.Copy(w, body); err != nil {
			return fmt.Errorf("io.Copy: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("bufio.Writer.Flush: %w", err)
	}
	return nil
}

// headerOrder lists the keys of h with host first, then in the order the
// client sent them, then the rest sorted.
func headerOrder(h common.Header, raw []string) []string {
	keys := make([]string, 0, len(h))
	seen := make(map[string]bool, len(h))
	add := func(k string) {
		if _, ok := h[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	add("host")
	for i := 0; i < len(raw); i += 2 {
		add(strings.ToLower(raw[i]))
	}
	var rest []string
	for k := range h {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// writeResponse relays hres to the client and reports whether the
// connection stays usable. A body of unknown length is chunked for HTTP/1.1
// clients and delimited by closing the connection for HTTP/1.0 ones.
func (s *Server) writeResponse(ctx context.Context, c net.Conn, req *common.Request, hreq *http.Request, hres *http.Response, keepAlive bool) (bool, error) {
	res := common.NewResponse(req, hres)
	res.BodyStreamReady = func(stream.Stream) {
		slog.Debug("Response body rewritten by plugin", slog.Any("response", res))
	}
	s.Inspector.AttachResponse(req, res)
	applyResponseDirectives(req, res)
	removeHopHeaders(res.Headers)

	out := &http.Response{
		Status:     hres.Status,
		StatusCode: hres.StatusCode,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Request:    hreq,
	}

	if hres.Body == nil || hres.Body == http.NoBody {
		out.Header = canonicalHeader(res.Headers)
		out.Body = http.NoBody
		out.ContentLength = hres.ContentLength
		out.Close = !keepAlive
		return keepAlive, writeTo(c, out)
	}

	dec, err := res.OnDecode(ctx)
	if err != nil {
		writeStatus(c, http.StatusBadGateway, "response transform failed")
		return false, err
	}
	enc, err := res.OnEncode(ctx)
	if err != nil {
		stream.Release(dec)
		writeStatus(c, http.StatusBadGateway, "response transform failed")
		return false, err
	}
	body := stream.Apply(stream.Compose(dec, enc), hres.Body)
	defer body.Close()

	out.Header = canonicalHeader(res.Headers)
	out.Body = body
	out.ContentLength = -1
	if n, err := strconv.ParseInt(res.Headers.Get("content-length"), 10, 64); err == nil && n >= 0 {
		out.ContentLength = n
	} else if hreq.ProtoAtLeast(1, 1) {
		out.TransferEncoding = []string{"chunked"}
	} else {
		keepAlive = false
	}
	out.Close = !keepAlive
	return keepAlive, writeTo(c, out)
}

func writeTo(c net.Conn, res *http.Response) error {
	bw := bufio.NewWriter(c)
	if err := res.Write(bw); err != nil {
		return fmt.Errorf("http.Response.Write: %w", err)
	}
	if err := bw.Flush(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("bufio.Writer.Flush: %w", err)
	}
	return nil
}

func (s *Server) recordRewrite(req *common.Request, original string) {
	s.Metrics.URLRewrites.Inc()
	slog.Info("URL rewritten", slog.String("from", original), slog.String("to", req.FullURL), slog.String("id", req.ID))
	if s.Recorder != nil {
		s.Recorder.RewriteRecordList.Record(&statistics.RewriteRecord{
			Host:         req.Host(),
			OriginalURL:  original,
			RewrittenURL: req.FullURL,
		})
	}
}
