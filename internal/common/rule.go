package common

import (
	"log/slog"
	"strings"
)

// Kind names a rule directive. The vocabulary is fixed; RuleSet has one
// field per kind.
type Kind string

const (
	KindRule       Kind = "rule"
	KindURLParams  Kind = "urlParams"
	KindRulesFile  Kind = "rulesFile"
	KindPlugin     Kind = "plugin"
	KindPipe       Kind = "pipe"
	KindEnable     Kind = "enable"
	KindReqHeaders Kind = "reqHeaders"
	KindResHeaders Kind = "resHeaders"
	KindReqScript  Kind = "reqScript"
	KindResScript  Kind = "resScript"
	KindUA         Kind = "ua"
	KindFilter     Kind = "filter"
)

// Kinds lists every directive kind in resolution order.
var Kinds = []Kind{
	KindRule, KindURLParams, KindRulesFile, KindPlugin, KindPipe, KindEnable,
	KindReqHeaders, KindResHeaders, KindReqScript, KindResScript, KindUA, KindFilter,
}

// ValidKind reports whether k belongs to the directive vocabulary.
func ValidKind(k string) bool {
	for _, kind := range Kinds {
		if string(kind) == k {
			return true
		}
	}
	return false
}

// Rule is one matched directive.
type Rule struct {
	Kind    Kind   `json:"kind"`
	Value   string `json:"value"`
	Matcher string `json:"matcher,omitempty"`
	Source  string `json:"source,omitempty"`
}

func (r *Rule) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(r.Kind)),
		slog.String("value", r.Value),
		slog.String("matcher", r.Matcher),
		slog.String("source", r.Source),
	)
}

// RuleSet is the resolved directive set of one request. A nil field means
// the directive did not match.
type RuleSet struct {
	Rule       *Rule `json:"rule,omitempty"`
	URLParams  *Rule `json:"urlParams,omitempty"`
	RulesFile  *Rule `json:"rulesFile,omitempty"`
	Plugin     *Rule `json:"plugin,omitempty"`
	Pipe       *Rule `json:"pipe,omitempty"`
	Enable     *Rule `json:"enable,omitempty"`
	ReqHeaders *Rule `json:"reqHeaders,omitempty"`
	ResHeaders *Rule `json:"resHeaders,omitempty"`
	ReqScript  *Rule `json:"reqScript,omitempty"`
	ResScript  *Rule `json:"resScript,omitempty"`
	UA         *Rule `json:"ua,omitempty"`
	Filter     *Rule `json:"filter,omitempty"`
}

// slot returns the field holding kind, or nil for an unknown kind.
func (s *RuleSet) slot(kind Kind) **Rule {
	switch kind {
	case KindRule:
		return &s.Rule
	case KindURLParams:
		return &s.URLParams
	case KindRulesFile:
		return &s.RulesFile
	case KindPlugin:
		return &s.Plugin
	case KindPipe:
		return &s.Pipe
	case KindEnable:
		return &s.Enable
	case KindReqHeaders:
		return &s.ReqHeaders
	case KindResHeaders:
		return &s.ResHeaders
	case KindReqScript:
		return &s.ReqScript
	case KindResScript:
		return &s.ResScript
	case KindUA:
		return &s.UA
	case KindFilter:
		return &s.Filter
	}
	return nil
}

// Get returns the directive of kind, or nil.
func (s *RuleSet) Get(kind Kind) *Rule {
	if s == nil {
		return nil
	}
	if p := s.slot(kind); p != nil {
		return *p
	}
	return nil
}

// Set stores r under kind. A nil r clears the directive.
func (s *RuleSet) Set(kind Kind, r *Rule) {
	if p := s.slot(kind); p != nil {
		*p = r
	}
}

// Len returns the number of matched directives.
func (s *RuleSet) Len() int {
	n := 0
	for _, k := range Kinds {
		if s.Get(k) != nil {
			n++
		}
	}
	return n
}

// Clone returns a shallow copy; the Rule values are shared.
func (s *RuleSet) Clone() *RuleSet {
	if s == nil {
		return &RuleSet{}
	}
	c := *s
	return &c
}

// Merge returns a new set holding every directive of base plus the
// directives only overlay defines. Neither argument is modified.
func Merge(base, overlay *RuleSet) *RuleSet {
	out := base.Clone()
	if overlay == nil {
		return out
	}
	for _, k := range Kinds {
		if out.Get(k) == nil {
			out.Set(k, overlay.Get(k))
		}
	}
	return out
}

// TargetURL returns the alternate target selected by the rule directive, or
// an empty string when the directive is absent or not a URL.
func (s *RuleSet) TargetURL() string {
	r := s.Get(KindRule)
	if r == nil {
		return ""
	}
	v := strings.TrimSpace(r.Value)
	lower := strings.ToLower(v)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return v
	}
	return ""
}

// Values splits a directive value on '|' and ',' into its trimmed parts.
func (r *Rule) Values() []string {
	if r == nil {
		return nil
	}
	parts := strings.FieldsFunc(r.Value, func(c rune) bool { return c == '|' || c == ',' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *RuleSet) LogValue() slog.Value {
	if s == nil {
		return slog.StringValue("<nil>")
	}
	attrs := make([]slog.Attr, 0, len(Kinds))
	for _, k := range Kinds {
		if r := s.Get(k); r != nil {
			attrs = append(attrs, slog.String(string(k), r.Value))
		}
	}
	return slog.GroupValue(attrs...)
}

// RuleSource resolves the directive set for a request.
type RuleSource interface {
	ResolveRules(req *Request) *RuleSet
}

// RuleInitializer is implemented by sources that store their result on the
// request themselves.
type RuleInitializer interface {
	InitRules(req *Request)
}
