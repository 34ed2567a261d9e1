package match

import (
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

// Body matches the captured request body text. It never matches a request
// whose body was not captured.
type Body struct {
	typ     config.RuleType
	keyword string
	regex   *regexp2.Regexp
	url     *regexp2.Regexp
}

func (b *Body) Type() config.RuleType {
	return b.typ
}

func (b *Body) Prefilter(req *common.Request) bool {
	if b.url == nil {
		return true
	}
	match, _ := b.url.MatchString(req.FullURL)
	return match
}

func (b *Body) Match(req *common.Request) bool {
	if req.CapturedBody == nil || !b.Prefilter(req) {
		return false
	}
	if b.regex == nil {
		return strings.Contains(req.CapturedText, b.keyword)
	}
	match, err := b.regex.MatchString(req.CapturedText)
	if err != nil {
		slog.Debug("regexp2.MatchString", slog.Any("error", err))
		return false
	}
	return match
}

func (b *Body) String() string {
	if b.regex != nil {
		return b.regex.String()
	}
	return b.keyword
}

func (b *Body) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", string(b.typ)),
		slog.String("pattern", b.String()),
	}
	if b.url != nil {
		attrs = append(attrs, slog.String("url", b.url.String()))
	}
	return slog.GroupValue(attrs...)
}

func NewBody(rule *config.Rule) (*Body, error) {
	b := &Body{typ: rule.Type, keyword: rule.MatchValue}
	if rule.Type == config.RuleTypeBodyRegex {
		regex, err := compile(rule.MatchValue, regexp2.Multiline)
		if err != nil {
			return nil, err
		}
		b.regex = regex
	}
	if rule.MatchURL != "" {
		url, err := compile(rule.MatchURL, regexp2.None)
		if err != nil {
			return nil, err
		}
		b.url = url
	}
	return b, nil
}
