package inspect

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
	"github.com/sunbk201/rulegate/internal/plugin"
	"github.com/sunbk201/rulegate/internal/rule"
	"github.com/sunbk201/rulegate/internal/stream"
)

type fakeRules struct {
	funcSource
	bodyFilter   bool
	reqScript    bool
	fileErr      error
	headerInited bool
}

func (f *fakeRules) InitHeaderRules(req *common.Request)        { f.headerInited = true }
func (f *fakeRules) ResolveBodyFilter(req *common.Request) bool { return f.bodyFilter }
func (f *fakeRules) HasReqScript(req *common.Request) bool      { return f.reqScript }
func (f *fakeRules) ResolveRulesFile(ctx context.Context, req *common.Request) error {
	return f.fileErr
}

func staticRules(set *common.RuleSet) *fakeRules {
	return &fakeRules{funcSource: funcSource{resolve: func(req *common.Request) *common.RuleSet {
		return set.Clone()
	}}}
}

type fakePlugins struct {
	ports    common.PipePorts
	pipeErr  error
	rules    common.RuleSource
	rulesErr error
	socket   stream.Stream
	opened   []string
}

func (f *fakePlugins) ResolvePipePlugin(ctx context.Context, req *common.Request) error {
	if f.pipeErr != nil {
		return f.pipeErr
	}
	req.PipePorts = f.ports
	return nil
}

func (f *fakePlugins) open(dir, port string) (stream.Stream, error) {
	if port == "" {
		return nil, nil
	}
	f.opened = append(f.opened, dir)
	return f.socket, nil
}

func (f *fakePlugins) GetReqReadPipe(ctx context.Context, req *common.Request) (stream.Stream, error) {
	return f.open("reqRead", req.PipePorts.ReqRead)
}

func (f *fakePlugins) GetReqWritePipe(ctx context.Context, req *common.Request) (stream.Stream, error) {
	return f.open("reqWrite", req.PipePorts.ReqWrite)
}

func (f *fakePlugins) GetResReadPipe(ctx context.Context, req *common.Request, res *common.Response) (stream.Stream, error) {
	return f.open("resRead", req.PipePorts.ResRead)
}

func (f *fakePlugins) GetResWritePipe(ctx context.Context, req *common.Request, res *common.Response) (stream.Stream, error) {
	return f.open("resWrite", req.PipePorts.ResWrite)
}

func (f *fakePlugins) ResolvePlugins(req *common.Request) {
	if f.rules != nil || f.rulesErr != nil {
		req.Plugins = []string{"fake"}
	}
}

func (f *fakePlugins) GetRules(ctx context.Context, req *common.Request) (common.RuleSource, error) {
	return f.rules, f.rulesErr
}

func newPost(t *testing.T, target, body string) *common.Request {
	t.Helper()
	return common.NewRequest(httptest.NewRequest("POST", target, strings.NewReader(body)), nil, false)
}

func readBody(t *testing.T, req *common.Request) string {
	t.Helper()
	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	return string(data)
}

func TestCaptureCap(t *testing.T) {
	tests := []struct {
		name                            string
		bodyFilter, reqReadPort, script bool
		limit                           int64
		required                        bool
	}{
		{"nothing", false, false, false, CapNone, false},
		{"script without port", false, false, true, CapNone, false},
		{"body filter", true, false, false, CapBodyFilter, true},
		{"body filter and script", true, true, true, CapBodyFilter, true},
		{"port and script", false, true, true, CapUnlimited, true},
		{"port only", false, true, false, CapSniff, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, required := CaptureCap(tt.bodyFilter, tt.reqReadPort, tt.script)
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.required, required)
		})
	}
	assert.Equal(t, int64(256*1024), CapBodyFilter)
}

func TestInspectNoCapture(t *testing.T) {
	req := newPost(t, "http://example.com/a", "payload")
	rules := staticRules(&common.RuleSet{})

	require.NoError(t, New(rules, &fakePlugins{}).Inspect(context.Background(), req))
	assert.True(t, rules.headerInited)
	assert.Nil(t, req.CapturedBody)
	assert.False(t, req.NeedsRecode())
	assert.Equal(t, "7", req.Headers.Get("content-length"))
	assert.Equal(t, "payload", readBody(t, req))
}

func TestInspectCaptureBodyFilter(t *testing.T) {
	body := strings.Repeat("x", int(CapBodyFilter)+10)
	req := newPost(t, "http://example.com/a", body)
	rules := staticRules(&common.RuleSet{})
	rules.bodyFilter = true

	require.NoError(t, New(rules, &fakePlugins{}).Inspect(context.Background(), req))
	assert.Len(t, req.CapturedBody, int(CapBodyFilter))
	assert.Len(t, req.CapturedText, int(CapBodyFilter))
	assert.True(t, req.NeedsRecode())
	assert.Equal(t, body, readBody(t, req))
}

func TestInspectCaptureUnlimited(t *testing.T) {
	body := strings.Repeat("y", int(CapBodyFilter)*2)
	req := newPost(t, "http://example.com/a", body)
	rules := staticRules(&common.RuleSet{})
	rules.reqScript = true
	plugins := &fakePlugins{ports: common.PipePorts{ReqRead: "p"}}

	require.NoError(t, New(rules, plugins).Inspect(context.Background(), req))
	assert.Len(t, req.CapturedBody, len(body))
	assert.Empty(t, req.Headers.Get("content-length"))
}

func TestInspectCaptureSniff(t *testing.T) {
	req := newPost(t, "http://example.com/a", "hello")
	plugins := &fakePlugins{ports: common.PipePorts{ReqRead: "p"}}

	require.NoError(t, New(staticRules(&common.RuleSet{}), plugins).Inspect(context.Background(), req))
	assert.Equal(t, []byte("h"), req.CapturedBody)
	assert.Empty(t, req.CapturedText)
	assert.Equal(t, "hello", readBody(t, req))
}

func TestInspectCaptureGzipText(t *testing.T) {
	var buf bytes.Buffer
	_, err := io.Copy(&buf, stream.ZipStream("gzip").Pipe(strings.NewReader("token=abc")))
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "http://example.com/a", bytes.NewReader(buf.Bytes()))
	r.Header.Set("Content-Encoding", "gzip")
	req := common.NewRequest(r, nil, false)
	rules := staticRules(&common.RuleSet{})
	rules.bodyFilter = true

	require.NoError(t, New(rules, &fakePlugins{}).Inspect(context.Background(), req))
	assert.Equal(t, buf.Bytes(), req.CapturedBody)
	assert.Equal(t, "token=abc", req.CapturedText)
}

func TestInspectCaptureError(t *testing.T) {
	r := httptest.NewRequest("POST", "http://example.com/a", iotest.ErrReader(errors.New("connection reset")))
	req := common.NewRequest(r, nil, false)
	rules := staticRules(&common.RuleSet{})
	rules.bodyFilter = true

	err := New(rules, &fakePlugins{}).Inspect(context.Background(), req)
	assert.ErrorIs(t, err, ErrCapture)
	assert.Equal(t, 0, rules.calls)
}

func TestInspectPipeError(t *testing.T) {
	boom := errors.New("plugin down")
	req := newRequest(t, "http://example.com/a")

	err := New(staticRules(&common.RuleSet{}), &fakePlugins{pipeErr: boom}).Inspect(context.Background(), req)
	assert.ErrorIs(t, err, boom)
}

func TestInspectRulesFileError(t *testing.T) {
	boom := errors.New("permission denied")
	rules := staticRules(&common.RuleSet{})
	rules.fileErr = boom

	err := New(rules, &fakePlugins{}).Inspect(context.Background(), newRequest(t, "http://example.com/a"))
	assert.ErrorIs(t, err, boom)
}

func TestInspectPluginRules(t *testing.T) {
	base := &common.RuleSet{
		UA:     directive(common.KindUA, "base"),
		Plugin: directive(common.KindPlugin, "fake"),
	}
	pluginSrc := &funcSource{resolve: func(req *common.Request) *common.RuleSet {
		return &common.RuleSet{
			UA:        directive(common.KindUA, "plugin"),
			Filter:    directive(common.KindFilter, "plugin"),
			RulesFile: directive(common.KindRulesFile, "evil.yaml"),
		}
	}}
	req := newRequest(t, "http://example.com/a")

	require.NoError(t, New(staticRules(base), &fakePlugins{rules: pluginSrc}).Inspect(context.Background(), req))
	assert.Equal(t, "base", req.Rules.UA.Value)
	assert.Equal(t, "plugin", req.Rules.Filter.Value)
	assert.Nil(t, req.Rules.RulesFile)
	assert.Same(t, pluginSrc, req.PluginRules)
	assert.Equal(t, 1, pluginSrc.calls)
}

func TestInspectPluginRulesKeepBaseRulesFile(t *testing.T) {
	base := &common.RuleSet{RulesFile: directive(common.KindRulesFile, "mine.yaml")}
	pluginSrc := &funcSource{resolve: func(req *common.Request) *common.RuleSet {
		return &common.RuleSet{RulesFile: directive(common.KindRulesFile, "evil.yaml")}
	}}
	req := newRequest(t, "http://example.com/a")

	require.NoError(t, New(staticRules(base), &fakePlugins{rules: pluginSrc}).Inspect(context.Background(), req))
	assert.Equal(t, "mine.yaml", req.Rules.RulesFile.Value)
}

func TestInspectPluginRulesError(t *testing.T) {
	boom := errors.New("rules backend unavailable")
	req := newRequest(t, "http://example.com/a")

	err := New(staticRules(&common.RuleSet{}), &fakePlugins{rulesErr: boom}).Inspect(context.Background(), req)
	assert.ErrorIs(t, err, boom)
}

func TestInspectOptions(t *testing.T) {
	tests := []struct {
		name string
		rule string
		host string
		path string
	}{
		{"no rule", "", "example.com", "/a"},
		{"http target", "http://other.com:8080/b", "other.com:8080", "/b"},
		{"non-latin target", "https://other.com/中", "other.com", "/中"},
		{"non url value", "file:///etc/hosts", "example.com", "/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := &common.RuleSet{}
			if tt.rule != "" {
				set.Rule = directive(common.KindRule, tt.rule)
			}
			req := newRequest(t, "http://example.com/a")

			require.NoError(t, New(staticRules(set), &fakePlugins{}).Inspect(context.Background(), req))
			require.NotNil(t, req.Options)
			assert.Equal(t, tt.host, req.Options.Host)
			assert.Equal(t, tt.path, req.Options.Path)
		})
	}
}

func TestInspectEnableGzip(t *testing.T) {
	set := &common.RuleSet{Enable: directive(common.KindEnable, "gzip|capture")}

	req := newRequest(t, "http://example.com/a")
	require.NoError(t, New(staticRules(set), &fakePlugins{}).Inspect(context.Background(), req))
	assert.False(t, req.Enable[common.ToggleGzip])
	assert.True(t, req.Enable["capture"])

	req = newRequest(t, "http://example.com/a")
	req.Headers.Set("accept-encoding", "br, gzip")
	require.NoError(t, New(staticRules(set), &fakePlugins{}).Inspect(context.Background(), req))
	assert.True(t, req.Enable[common.ToggleGzip])
}

func TestInspectRawHeaderNames(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/a", nil)
	req := common.NewRequest(r, []string{"X-Custom-ID", "1", "HOST", "example.com"}, false)

	require.NoError(t, New(staticRules(&common.RuleSet{}), &fakePlugins{}).Inspect(context.Background(), req))
	assert.Equal(t, "X-Custom-ID", req.RawHeaderNames["x-custom-id"])
	assert.Equal(t, "HOST", req.RawHeaderNames["host"])
	assert.Equal(t, "Connection", req.RawHeaderNames["connection"])
	assert.Equal(t, "Proxy-Authorization", req.RawHeaderNames["proxy-authorization"])
}

func TestInspectWithStoreAndManager(t *testing.T) {
	cfg := &config.Config{
		RulesHeader: "x-rulegate-rules",
		Rules: []config.Rule{
			{Type: config.RuleTypeFinal, Directive: "pipe", Value: "replace"},
			{Type: config.RuleTypeFinal, Directive: "plugin", Value: "replace|missing"},
		},
	}
	store := rule.NewStore(cfg)
	plugins, err := plugin.FromConfig([]config.Plugin{{
		Name:  "replace",
		Rules: []config.Rule{{Type: config.RuleTypeFinal, Directive: "ua", Value: "from-plugin"}},
		Pipe:  &config.Pipe{Directions: []string{"reqRead"}, Regex: "foo", Replace: "bar"},
	}})
	require.NoError(t, err)
	mgr := plugin.NewManager(store)
	mgr.Replace(plugins)

	req := newPost(t, "http://example.com/a", "foo foo")
	ctx := context.Background()
	require.NoError(t, New(store, mgr).Inspect(ctx, req))

	assert.Equal(t, "replace", req.PipePorts.ReqRead)
	assert.Equal(t, []string{"replace"}, req.Plugins)
	assert.Equal(t, "from-plugin", req.Rules.UA.Value)
	assert.Empty(t, req.Headers.Get("content-length"))
	assert.Equal(t, []byte("f"), req.CapturedBody)

	decoder, err := req.OnDecode(ctx)
	require.NoError(t, err)
	require.NotNil(t, decoder)
	out, err := io.ReadAll(stream.Apply(decoder, req.Body))
	require.NoError(t, err)
	assert.Equal(t, "bar bar", string(out))
}
