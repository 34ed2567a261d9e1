package match

import (
	"fmt"
	"log/slog"

	"github.com/dlclark/regexp2"
	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

// URLRegex matches the absolute request URL as currently rewritten.
type URLRegex struct {
	regex *regexp2.Regexp
}

func (u *URLRegex) Type() config.RuleType {
	return config.RuleTypeURLRegex
}

func (u *URLRegex) Match(req *common.Request) bool {
	match, err := u.regex.MatchString(req.FullURL)
	if err != nil {
		slog.Debug("regexp2.MatchString", slog.String("url", req.FullURL), slog.Any("error", err))
		return false
	}
	return match
}

func (u *URLRegex) String() string {
	return u.regex.String()
}

func (u *URLRegex) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(u.Type())),
		slog.String("url_regex", u.regex.String()),
	)
}

func NewURLRegex(rule *config.Rule) (*URLRegex, error) {
	regex, err := compile(rule.MatchValue, regexp2.None)
	if err != nil {
		return nil, err
	}
	return &URLRegex{regex: regex}, nil
}

// compile wraps regexp2.Compile with a match timeout so a pathological
// pattern cannot stall the request path.
func compile(expr string, opts regexp2.RegexOptions) (*regexp2.Regexp, error) {
	regex, err := regexp2.Compile(expr, opts)
	if err != nil {
		return nil, fmt.Errorf("regexp2.Compile: %w", err)
	}
	regex.MatchTimeout = matchTimeout
	return regex, nil
}
