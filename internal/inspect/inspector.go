// Package inspect runs the per-request inspection stage of the proxy: it
// resolves the directives that apply to a request, lets plugins contribute
// rules and pipe sockets, captures the body when a rule needs it, and
// installs the decode and encode builders used by the forwarding layer.
package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/stream"
	"github.com/sunbk201/rulegate/internal/urlutil"
)

// Rules is the configured rule store.
type Rules interface {
	common.RuleSource
	InitHeaderRules(req *common.Request)
	ResolveBodyFilter(req *common.Request) bool
	HasReqScript(req *common.Request) bool
	ResolveRulesFile(ctx context.Context, req *common.Request) error
}

type Inspector struct {
	rules   Rules
	plugins Plugins
}

func New(rules Rules, plugins Plugins) *Inspector {
	return &Inspector{rules: rules, plugins: plugins}
}

// Inspect prepares req for forwarding. Any error means the request must be
// answered with an error response and never forwarded.
func (i *Inspector) Inspect(ctx context.Context, req *common.Request) error {
	req.RawHeaderNames = common.RawHeaderNames(req.RawHeaders)
	if req.Rules == nil {
		req.Rules = &common.RuleSet{}
	}
	if req.Enable == nil {
		req.Enable = common.Toggles{}
	}
	installTranscoders(&req.Payload, noGzip,
		func(ctx context.Context) (stream.Stream, error) { return i.plugins.GetReqReadPipe(ctx, req) },
		func(ctx context.Context) (stream.Stream, error) { return i.plugins.GetReqWritePipe(ctx, req) },
	)

	if err := i.plugins.ResolvePipePlugin(ctx, req); err != nil {
		return fmt.Errorf("inspect.ResolvePipePlugin: %w", err)
	}
	if req.PipePorts.ReqRead != "" || req.PipePorts.ReqWrite != "" {
		req.Headers.Del("content-length")
	}

	i.rules.InitHeaderRules(req)

	hasBodyFilter := i.rules.ResolveBodyFilter(req)
	hasReqRead := req.PipePorts.ReqRead != ""
	hasReqScript := !hasBodyFilter && hasReqRead && i.rules.HasReqScript(req)
	if limit, required := CaptureCap(hasBodyFilter, hasReqRead, hasReqScript); required {
		req.MarkRecode()
		if err := captureBody(req, limit); err != nil {
			return fmt.Errorf("inspect.captureBody: %w", err)
		}
		slog.Debug("Body captured", slog.Any("request", req), slog.Int("bytes", len(req.CapturedBody)), slog.Int64("limit", limit))
	}

	if err := ResolveRules(ctx, req, i.rules); err != nil {
		return fmt.Errorf("inspect.ResolveRules: %w", err)
	}
	if err := i.rules.ResolveRulesFile(ctx, req); err != nil {
		return fmt.Errorf("inspect.ResolveRulesFile: %w", err)
	}
	if err := resolvePluginRules(ctx, req, i.plugins); err != nil {
		return err
	}

	opts, err := targetOptions(req)
	if err != nil {
		return fmt.Errorf("inspect.targetOptions: %w", err)
	}
	req.Options = opts

	for _, name := range req.Rules.Get(common.KindEnable).Values() {
		if name == common.ToggleGzip && !req.AcceptsGzip() {
			continue
		}
		req.Enable[name] = true
	}

	slog.Debug("Request inspected", slog.Any("request", req), slog.Any("rules", req.Rules))
	return nil
}

// AttachResponse installs the decode and encode builders of res. The gzip
// toggle is read when the encoder is built.
func (i *Inspector) AttachResponse(req *common.Request, res *common.Response) {
	installTranscoders(&res.Payload,
		func() bool { return req.Enable[common.ToggleGzip] },
		func(ctx context.Context) (stream.Stream, error) { return i.plugins.GetResReadPipe(ctx, req, res) },
		func(ctx context.Context) (stream.Stream, error) { return i.plugins.GetResWritePipe(ctx, req, res) },
	)
}

// targetOptions parses the URL the request will be sent to: the target of
// the rule directive when it names a different http(s) URL, else the
// request's own URL.
func targetOptions(req *common.Request) (*url.URL, error) {
	target := req.FullURL
	if ruleURL := req.Rules.TargetURL(); ruleURL != "" && ruleURL != req.FullURL && urlutil.IsHTTPURL(ruleURL) {
		target = urlutil.EncodeNonLatin1(ruleURL)
	}
	return urlutil.ParseURL(target)
}
