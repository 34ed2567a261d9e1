package inspect

import (
	"context"
	"fmt"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/stream"
)

// Plugins is the plugin registry as seen by the inspection stage.
type Plugins interface {
	ResolvePipePlugin(ctx context.Context, req *common.Request) error
	GetReqReadPipe(ctx context.Context, req *common.Request) (stream.Stream, error)
	GetReqWritePipe(ctx context.Context, req *common.Request) (stream.Stream, error)
	GetResReadPipe(ctx context.Context, req *common.Request, res *common.Response) (stream.Stream, error)
	GetResWritePipe(ctx context.Context, req *common.Request, res *common.Response) (stream.Stream, error)
	ResolvePlugins(req *common.Request)
	GetRules(ctx context.Context, req *common.Request) (common.RuleSource, error)
}

// resolvePluginRules lets the enabled plugins contribute directives. Rules
// resolved before this step win every conflict, and a plugin can never
// chain another rules file.
func resolvePluginRules(ctx context.Context, req *common.Request, plugins Plugins) error {
	base := req.Rules
	plugins.ResolvePlugins(req)

	src, err := plugins.GetRules(ctx, req)
	if err != nil {
		return fmt.Errorf("inspect.GetRules: %w", err)
	}
	req.PluginRules = src
	if src == nil {
		return nil
	}

	if err := ResolveRules(ctx, req, src); err != nil {
		return err
	}
	contributed := req.Rules.Clone()
	contributed.RulesFile = nil
	req.Rules = common.Merge(base, contributed)
	return nil
}
