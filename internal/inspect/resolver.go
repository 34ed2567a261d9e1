package inspect

import (
	"context"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/urlutil"
)

// ResolveRules resolves req.Rules from src. When the urlParams directive
// rewrites the query string, the rules are resolved once more against the
// new URL; the directive that caused the rewrite is kept on the result.
// There is no further pass, so a rewritten URL's own urlParams is not
// applied. A nil src leaves req untouched.
func ResolveRules(ctx context.Context, req *common.Request, src common.RuleSource) error {
	if src == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req.RefreshURL()
	resolveFrom(req, src)

	params := req.Rules.Get(common.KindURLParams)
	if params == nil {
		return nil
	}
	overlay := urlutil.ParseRuleJSON(params.Value)
	if len(overlay) == 0 {
		return nil
	}
	rewritten := urlutil.ReplaceQuery(req.URL, overlay)
	if rewritten == req.URL {
		return nil
	}

	req.SetURL(rewritten)
	req.Rules = orEmpty(src.ResolveRules(req))
	req.Rules.URLParams = params
	if req.HeaderRules != nil {
		pre := req.Rules
		req.Rules = common.Merge(orEmpty(req.HeaderRules.ResolveRules(req)), pre)
	}
	return nil
}

func resolveFrom(req *common.Request, src common.RuleSource) {
	if init, ok := src.(common.RuleInitializer); ok {
		init.InitRules(req)
	} else {
		req.Rules = src.ResolveRules(req)
	}
	req.Rules = orEmpty(req.Rules)
}

func orEmpty(rs *common.RuleSet) *common.RuleSet {
	if rs == nil {
		return &common.RuleSet{}
	}
	return rs
}
