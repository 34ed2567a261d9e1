package match

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

type HeaderKeyword struct {
	header  string
	keyword string
}

func (h *HeaderKeyword) Type() config.RuleType {
	return config.RuleTypeHeaderKeyword
}

func (h *HeaderKeyword) Match(req *common.Request) bool {
	for _, v := range req.Headers[h.header] {
		if strings.Contains(strings.ToLower(v), h.keyword) {
			return true
		}
	}
	return false
}

func (h *HeaderKeyword) String() string {
	return h.header + ": " + h.keyword
}

func (h *HeaderKeyword) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":    h.Type(),
		"header":  h.header,
		"keyword": h.keyword,
	})
}

func (h *HeaderKeyword) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(h.Type())),
		slog.String("header", h.header),
		slog.String("keyword", h.keyword),
	)
}

func NewHeaderKeyword(rule *config.Rule) *HeaderKeyword {
	return &HeaderKeyword{
		header:  strings.ToLower(rule.MatchHeader),
		keyword: strings.ToLower(rule.MatchValue),
	}
}
