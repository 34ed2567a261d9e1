package inspect

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/stream"
)

func compressed(t *testing.T, encoding, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := io.Copy(&buf, stream.ZipStream(encoding).Pipe(strings.NewReader(s)))
	require.NoError(t, err)
	return buf.Bytes()
}

func newResponse(req *common.Request, encoding string, body []byte) *common.Response {
	h := http.Header{}
	if encoding != "" {
		h.Set("Content-Encoding", encoding)
	}
	h.Set("Content-Length", "42")
	return common.NewResponse(req, &http.Response{
		StatusCode:    200,
		Proto:         "HTTP/1.1",
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: -1,
	})
}

// inspected returns a request that went through Inspect with the given
// enable directive and Accept-Encoding header.
func inspected(t *testing.T, plugins *fakePlugins, enable, accept string) (*Inspector, *common.Request) {
	t.Helper()
	set := &common.RuleSet{}
	if enable != "" {
		set.Enable = directive(common.KindEnable, enable)
	}
	ins := New(staticRules(set), plugins)
	req := newRequest(t, "http://example.com/a")
	if accept != "" {
		req.Headers.Set("accept-encoding", accept)
	}
	require.NoError(t, ins.Inspect(context.Background(), req))
	return ins, req
}

func pipe(t *testing.T, p *common.Payload, body io.Reader) (string, stream.Stream, stream.Stream) {
	t.Helper()
	ctx := context.Background()
	dec, err := p.OnDecode(ctx)
	require.NoError(t, err)
	enc, err := p.OnEncode(ctx)
	require.NoError(t, err)
	out, err := io.ReadAll(stream.Apply(enc, stream.Apply(dec, body)))
	require.NoError(t, err)
	return string(out), dec, enc
}

func TestGzipPassThrough(t *testing.T) {
	gz := compressed(t, "gzip", "hello")

	r := httptest.NewRequest("POST", "http://example.com/a", bytes.NewReader(gz))
	r.Header.Set("Content-Encoding", "gzip")
	r.Header.Set("Accept-Encoding", "gzip")
	req := common.NewRequest(r, nil, false)
	ins := New(staticRules(&common.RuleSet{Enable: directive(common.KindEnable, "gzip")}), &fakePlugins{})
	require.NoError(t, ins.Inspect(context.Background(), req))
	require.True(t, req.Enable[common.ToggleGzip])

	out, dec, enc := pipe(t, &req.Payload, req.Body)
	assert.Nil(t, dec)
	assert.Nil(t, enc)
	assert.Equal(t, string(gz), out)
	assert.Equal(t, "gzip", req.Headers.Get("content-encoding"))

	res := newResponse(req, "gzip", gz)
	ins.AttachResponse(req, res)
	out, dec, enc = pipe(t, &res.Payload, res.Body)
	assert.Nil(t, dec)
	assert.Nil(t, enc)
	assert.Equal(t, string(gz), out)
	assert.Equal(t, "42", res.Headers.Get("content-length"))
}

func TestEncodeSelection(t *testing.T) {
	tests := []struct {
		name    string
		gzip    bool
		origin  string
		recode  bool
		want    string
		encoded bool
	}{
		{"gzip for plain body", true, "", false, "gzip", true},
		{"gzip after decode", true, "deflate", true, "gzip", true},
		{"never decoded keeps encoding", true, "deflate", false, "deflate", false},
		{"reapply origin after decode", false, "deflate", true, "deflate", true},
		{"plain stays plain", false, "", false, "", false},
		{"plain recoded stays plain", false, "", true, "", false},
		{"unsupported never double encoded", true, "br", true, "br", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accept := ""
			if tt.gzip {
				accept = "gzip"
			}
			ins, req := inspected(t, &fakePlugins{}, "gzip", accept)
			require.Equal(t, tt.gzip, req.Enable[common.ToggleGzip])

			body := []byte("hello")
			if tt.origin != "" && stream.Supported(tt.origin) {
				body = compressed(t, tt.origin, "hello")
			}
			res := newResponse(req, tt.origin, body)
			if tt.recode {
				res.MarkRecode()
			}
			ins.AttachResponse(req, res)

			out, _, enc := pipe(t, &res.Payload, res.Body)
			assert.Equal(t, tt.encoded, enc != nil)
			assert.Equal(t, tt.want, res.Headers.Get("content-encoding"))

			var plain io.Reader = strings.NewReader(out)
			if u := stream.UnzipStream(res.Headers.Get("content-encoding")); u != nil {
				plain = u.Pipe(plain)
			}
			got, err := io.ReadAll(plain)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(got))
		})
	}
}

func TestDecodeHeaderMismatch(t *testing.T) {
	ins, req := inspected(t, &fakePlugins{}, "", "")
	res := newResponse(req, "gzip", compressed(t, "gzip", "hello"))
	res.Headers.Del("content-encoding")
	ins.AttachResponse(req, res)

	out, dec, enc := pipe(t, &res.Payload, res.Body)
	assert.NotNil(t, dec)
	assert.NotNil(t, enc)
	assert.True(t, res.NeedsRecode())
	assert.Equal(t, "gzip", res.Headers.Get("content-encoding"))
	assert.Empty(t, res.Headers.Get("content-length"))
	assert.NotEqual(t, "hello", out)
}

func TestDecodeDeliversPlain(t *testing.T) {
	ins, req := inspected(t, &fakePlugins{}, "", "")
	res := newResponse(req, "deflate", compressed(t, "deflate", "hello"))
	ins.AttachResponse(req, res)
	res.MarkRecode()

	ctx := context.Background()
	dec, err := res.OnDecode(ctx)
	require.NoError(t, err)
	out, err := io.ReadAll(stream.Apply(dec, res.Body))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
	assert.Empty(t, res.Headers.Get("content-length"))
}

func TestPipeSocketOrdering(t *testing.T) {
	socket := stream.Func(func(src io.Reader) io.Reader {
		data, _ := io.ReadAll(src)
		return strings.NewReader(strings.ToUpper(string(data)))
	})
	var ready stream.Stream
	plugins := &fakePlugins{
		ports:  common.PipePorts{ResRead: "p", ResWrite: "p"},
		socket: socket,
	}
	ins, req := inspected(t, plugins, "gzip", "gzip")

	res := newResponse(req, "gzip", compressed(t, "gzip", "hello"))
	res.BodyStreamReady = func(s stream.Stream) { ready = s }
	ins.AttachResponse(req, res)

	out, dec, enc := pipe(t, &res.Payload, res.Body)
	require.NotNil(t, dec)
	require.NotNil(t, enc)
	assert.NotNil(t, ready)
	assert.Equal(t, []string{"resRead", "resWrite"}, plugins.opened)
	assert.Empty(t, res.Headers.Get("content-length"))
	assert.Equal(t, "gzip", res.Headers.Get("content-encoding"))

	plain, err := io.ReadAll(stream.UnzipStream("gzip").Pipe(strings.NewReader(out)))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(plain))
}

func TestRequestSideNeverGzips(t *testing.T) {
	plugins := &fakePlugins{
		ports:  common.PipePorts{ReqRead: "p"},
		socket: stream.Func(func(src io.Reader) io.Reader { return src }),
	}
	r := httptest.NewRequest("POST", "http://example.com/a", strings.NewReader("plain"))
	r.Header.Set("Accept-Encoding", "gzip")
	req := common.NewRequest(r, nil, false)
	ins := New(staticRules(&common.RuleSet{Enable: directive(common.KindEnable, "gzip")}), plugins)
	require.NoError(t, ins.Inspect(context.Background(), req))

	out, dec, enc := pipe(t, &req.Payload, req.Body)
	assert.NotNil(t, dec)
	assert.Nil(t, enc)
	assert.Equal(t, "plain", out)
	assert.Empty(t, req.Headers.Get("content-encoding"))
}
