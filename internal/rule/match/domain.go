package match

import (
	"log/slog"
	"strings"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

type Domain struct {
	domain string
}

func (d *Domain) Type() config.RuleType {
	return config.RuleTypeDomain
}

func (d *Domain) Match(req *common.Request) bool {
	return strings.EqualFold(req.Host(), d.domain)
}

func (d *Domain) String() string {
	return d.domain
}

func (d *Domain) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(d.Type())),
		slog.String("domain", d.domain),
	)
}

func NewDomain(rule *config.Rule) *Domain {
	return &Domain{domain: strings.TrimSuffix(rule.MatchValue, ".")}
}
