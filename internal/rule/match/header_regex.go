package match

import (
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

type HeaderRegex struct {
	header string
	regex  *regexp2.Regexp
}

func (h *HeaderRegex) Type() config.RuleType {
	return config.RuleTypeHeaderRegex
}

func (h *HeaderRegex) Match(req *common.Request) bool {
	values, ok := req.Headers[h.header]
	if !ok {
		return false
	}
	for _, v := range values {
		if match, _ := h.regex.MatchString(v); match {
			return true
		}
	}
	return false
}

func (h *HeaderRegex) String() string {
	return h.header + ": " + h.regex.String()
}

func (h *HeaderRegex) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(h.Type())),
		slog.String("header", h.header),
		slog.String("regex", h.regex.String()),
	)
}

func NewHeaderRegex(rule *config.Rule) (*HeaderRegex, error) {
	regex, err := compile(rule.MatchValue, regexp2.IgnoreCase)
	if err != nil {
		return nil, err
	}
	return &HeaderRegex{
		header: strings.ToLower(rule.MatchHeader),
		regex:  regex,
	}, nil
}
