package rule

import (
	"log/slog"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
	"github.com/sunbk201/rulegate/internal/rule/match"
)

type entry struct {
	cfg     config.Rule
	kind    common.Kind
	matcher match.Matcher
}

// Engine resolves an ordered rule list. For every directive kind the first
// rule whose matcher accepts the request wins.
type Engine struct {
	name    string
	entries []*entry
	hasBody bool
}

// NewEngine compiles rules. Invalid or disabled rules are skipped with a
// warning so one bad line does not take the whole list down.
func NewEngine(name string, rules []config.Rule) *Engine {
	e := &Engine{name: name, entries: make([]*entry, 0, len(rules))}
	for i := range rules {
		rule := rules[i]
		if rule.Disabled {
			continue
		}
		if err := config.ValidateRule(&rule); err != nil {
			slog.Warn("Invalid rule", slog.String("engine", name), slog.Any("rule", &rule), slog.Any("error", err))
			continue
		}
		m, err := match.New(&rule)
		if err != nil {
			slog.Warn("match.New", slog.String("engine", name), slog.Any("rule", &rule), slog.Any("error", err))
			continue
		}
		if rule.Type.IsBody() {
			e.hasBody = true
		}
		e.entries = append(e.entries, &entry{
			cfg:     rule,
			kind:    common.Kind(rule.Directive),
			matcher: m,
		})
	}
	return e
}

func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) Len() int {
	return len(e.entries)
}

// Rules returns the compiled rules in order.
func (e *Engine) Rules() []config.Rule {
	out := make([]config.Rule, len(e.entries))
	for i, ent := range e.entries {
		out[i] = ent.cfg
	}
	return out
}

func (e *Engine) ResolveRules(req *common.Request) *common.RuleSet {
	rs := &common.RuleSet{}
	for _, ent := range e.entries {
		if rs.Get(ent.kind) != nil {
			continue
		}
		if ent.matcher.Match(req) {
			rs.Set(ent.kind, e.result(ent))
		}
	}
	if rs.Len() > 0 {
		slog.Debug("Rules resolved", slog.String("engine", e.name), slog.Any("request", req), slog.Any("rules", rs))
	}
	return rs
}

// Resolve returns the first matching rule of kind, skipping body rules.
func (e *Engine) Resolve(req *common.Request, kind common.Kind) *common.Rule {
	for _, ent := range e.entries {
		if ent.kind != kind || ent.cfg.Type.IsBody() {
			continue
		}
		if ent.matcher.Match(req) {
			return e.result(ent)
		}
	}
	return nil
}

// HasBodyFilter reports whether a body rule may apply to req once its body
// is captured.
func (e *Engine) HasBodyFilter(req *common.Request) bool {
	if !e.hasBody {
		return false
	}
	for _, ent := range e.entries {
		if bm, ok := ent.matcher.(match.BodyMatcher); ok && bm.Prefilter(req) {
			return true
		}
	}
	return false
}

func (e *Engine) result(ent *entry) *common.Rule {
	return &common.Rule{
		Kind:    ent.kind,
		Value:   ent.cfg.Value,
		Matcher: string(ent.cfg.Type) + "," + ent.matcher.String(),
		Source:  e.name,
	}
}

func (e *Engine) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", e.name),
		slog.Int("rules", len(e.entries)),
	)
}
