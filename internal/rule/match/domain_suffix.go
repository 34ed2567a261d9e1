package match

import (
	"strings"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

// DomainSuffix matches the domain itself and any of its subdomains.
type DomainSuffix struct {
	suffix string
}

func (d *DomainSuffix) Type() config.RuleType {
	return config.RuleTypeDomainSuffix
}

func (d *DomainSuffix) Match(req *common.Request) bool {
	host := strings.ToLower(req.Host())
	return host == d.suffix || strings.HasSuffix(host, "."+d.suffix)
}

func (d *DomainSuffix) String() string {
	return d.suffix
}

func NewDomainSuffix(rule *config.Rule) *DomainSuffix {
	suffix := strings.ToLower(strings.Trim(rule.MatchValue, "."))
	return &DomainSuffix{suffix: suffix}
}
