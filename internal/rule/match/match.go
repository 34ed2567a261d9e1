// Package match holds the request matchers a rule can be keyed on.
package match

import (
	"fmt"
	"time"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

const matchTimeout = 200 * time.Millisecond

type Matcher interface {
	Type() config.RuleType
	Match(req *common.Request) bool
	// String returns the pattern text, for logging and rule provenance.
	String() string
}

// BodyMatcher inspects the captured request body. Prefilter decides, before
// any body is read, whether the request is a candidate at all.
type BodyMatcher interface {
	Matcher
	Prefilter(req *common.Request) bool
}

// New builds the matcher for rule.
func New(rule *config.Rule) (Matcher, error) {
	switch rule.Type {
	case config.RuleTypeDomain:
		return NewDomain(rule), nil
	case config.RuleTypeDomainSuffix:
		return NewDomainSuffix(rule), nil
	case config.RuleTypeDomainKeyword:
		return NewDomainKeyword(rule), nil
	case config.RuleTypeURLRegex:
		return NewURLRegex(rule)
	case config.RuleTypeHeaderKeyword:
		return NewHeaderKeyword(rule), nil
	case config.RuleTypeHeaderRegex:
		return NewHeaderRegex(rule)
	case config.RuleTypeBodyKeyword, config.RuleTypeBodyRegex:
		return NewBody(rule)
	case config.RuleTypeDestPort:
		return NewDestPort(rule)
	case config.RuleTypeSrcIP:
		return NewSrcIP(rule)
	case config.RuleTypeIPCIDR:
		return NewIPCIDR(rule)
	case config.RuleTypeMethod:
		return NewMethod(rule), nil
	case config.RuleTypeFinal:
		return NewFinal(rule), nil
	}
	return nil, fmt.Errorf("unsupported rule type %q", rule.Type)
}
