package match

import (
	"strings"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

type DomainKeyword struct {
	keyword string
}

func (d *DomainKeyword) Type() config.RuleType {
	return config.RuleTypeDomainKeyword
}

func (d *DomainKeyword) Match(req *common.Request) bool {
	return strings.Contains(strings.ToLower(req.Host()), d.keyword)
}

func (d *DomainKeyword) String() string {
	return d.keyword
}

func NewDomainKeyword(rule *config.Rule) *DomainKeyword {
	return &DomainKeyword{keyword: strings.ToLower(rule.MatchValue)}
}
