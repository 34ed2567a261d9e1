package common

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sunbk201/rulegate/internal/stream"
	"github.com/sunbk201/rulegate/internal/urlutil"
)

// PipePorts names the plugin serving each body direction. Empty means no
// port was granted.
type PipePorts struct {
	ReqRead  string `json:"reqRead,omitempty"`
	ReqWrite string `json:"reqWrite,omitempty"`
	ResRead  string `json:"resRead,omitempty"`
	ResWrite string `json:"resWrite,omitempty"`
}

// Any reports whether any direction has a port.
func (p PipePorts) Any() bool {
	return p.ReqRead != "" || p.ReqWrite != "" || p.ResRead != "" || p.ResWrite != ""
}

// Toggles holds the named switches enabled for a request.
type Toggles map[string]bool

const ToggleGzip = "gzip"

// Transcoder builds the decode or encode stream of a payload on demand.
type Transcoder func(ctx context.Context) (stream.Stream, error)

// Payload is the part of a request or response that carries a body.
type Payload struct {
	Headers        Header
	OriginEncoding string
	Body           io.Reader

	// BodyStreamReady is notified when a plugin socket is about to rewrite
	// the body stream.
	BodyStreamReady func(s stream.Stream)

	needsRecode bool
	decode      Transcoder
	encode      Transcoder
}

// MarkRecode records that the body has been, or must be, decompressed. It
// cannot be undone.
func (p *Payload) MarkRecode() {
	p.needsRecode = true
}

func (p *Payload) NeedsRecode() bool {
	return p.needsRecode
}

// SetTranscoders installs the lazy decode and encode builders.
func (p *Payload) SetTranscoders(decode, encode Transcoder) {
	p.decode = decode
	p.encode = encode
}

// OnDecode builds the stream that turns wire bytes into plain bytes. A nil
// stream means the body passes through untouched.
func (p *Payload) OnDecode(ctx context.Context) (stream.Stream, error) {
	if p.decode == nil {
		return nil, nil
	}
	return p.decode(ctx)
}

// OnEncode builds the stream that turns plain bytes back into wire bytes.
func (p *Payload) OnEncode(ctx context.Context) (stream.Stream, error) {
	if p.encode == nil {
		return nil, nil
	}
	return p.encode(ctx)
}

func (p *Payload) NotifyBodyStreamReady(s stream.Stream) {
	if p.BodyStreamReady != nil {
		p.BodyStreamReady(s)
	}
}

// Request is the per-request context threaded through the inspection stage.
type Request struct {
	Payload

	ID         string
	Method     string
	Proto      string
	URL        string
	CurURL     string
	FullURL    string
	IsHTTPS    bool
	RemoteAddr string

	RawHeaders     []string
	RawHeaderNames map[string]string

	Rules       *RuleSet
	PluginRules RuleSource
	HeaderRules RuleSource
	Plugins     []string
	PipePorts   PipePorts
	Options     *url.URL
	Enable      Toggles

	CapturedBody []byte
	CapturedText string
}

var reqSeq atomic.Uint64

// NewReqID returns a process-unique request id.
func NewReqID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" +
		strconv.FormatUint(reqSeq.Add(1), 36) + "-" + hex.EncodeToString(b[:])
}

// NewRequest builds the context of a request read off the wire. raw is the
// alternating name/value header list as received, or nil if unknown.
func NewRequest(r *http.Request, raw []string, isHTTPS bool) *Request {
	h := NewHeader(r.Header)
	if r.Host != "" && !h.Has("host") {
		h.Set("host", r.Host)
	}
	if r.ContentLength > 0 && !h.Has("content-length") {
		h.Set("content-length", strconv.FormatInt(r.ContentLength, 10))
	}
	rawURL := r.RequestURI
	if rawURL == "" {
		rawURL = r.URL.String()
	}
	req := &Request{
		Payload: Payload{
			Headers:        h,
			OriginEncoding: h.Get("content-encoding"),
			Body:           r.Body,
		},
		ID:         NewReqID(),
		Method:     r.Method,
		Proto:      r.Proto,
		IsHTTPS:    isHTTPS,
		RemoteAddr: r.RemoteAddr,
		RawHeaders: raw,
		Rules:      &RuleSet{},
		Enable:     Toggles{},
	}
	req.SetURL(rawURL)
	req.RawHeaderNames = RawHeaderNames(raw)
	return req
}

// SetURL replaces the request URL and recomputes the absolute forms.
func (r *Request) SetURL(u string) {
	r.URL = u
	r.RefreshURL()
}

// RefreshURL recomputes CurURL and FullURL from URL.
func (r *Request) RefreshURL() {
	full := urlutil.FullURL(r.URL, r.Headers.Get("host"), r.IsHTTPS)
	r.CurURL = full
	r.FullURL = full
}

// Host returns the request host without port.
func (r *Request) Host() string {
	if u, err := url.Parse(r.FullURL); err == nil && u.Host != "" {
		return u.Hostname()
	}
	host := r.Headers.Get("host")
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return host
}

// DestPort returns the request port, defaulting by scheme.
func (r *Request) DestPort() string {
	if u, err := url.Parse(r.FullURL); err == nil {
		if p := u.Port(); p != "" {
			return p
		}
		if u.Scheme == "https" {
			return "443"
		}
	}
	return "80"
}

// AcceptsGzip reports whether the client advertised gzip support.
func (r *Request) AcceptsGzip() bool {
	for _, part := range strings.Split(r.Headers.Get("accept-encoding"), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "gzip" && name != "*" {
			continue
		}
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			return false
		}
		return true
	}
	return false
}

func (r *Request) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("method", r.Method),
		slog.String("url", r.FullURL),
		slog.String("src_addr", r.RemoteAddr),
	)
}

// Response mirrors Request for the upstream reply.
type Response struct {
	Payload

	Req        *Request
	StatusCode int
	Proto      string
}

// NewResponse builds the context of an upstream response to req.
func NewResponse(req *Request, r *http.Response) *Response {
	h := NewHeader(r.Header)
	if r.ContentLength >= 0 && !h.Has("content-length") && r.Body != http.NoBody {
		h.Set("content-length", strconv.FormatInt(r.ContentLength, 10))
	}
	return &Response{
		Payload: Payload{
			Headers:        h,
			OriginEncoding: h.Get("content-encoding"),
			Body:           r.Body,
		},
		Req:        req,
		StatusCode: r.StatusCode,
		Proto:      r.Proto,
	}
}

func (r *Response) LogValue() slog.Value {
	id := ""
	if r.Req != nil {
		id = r.Req.ID
	}
	return slog.GroupValue(
		slog.String("id", id),
		slog.Int("status", r.StatusCode),
		slog.String("encoding", r.OriginEncoding),
	)
}
