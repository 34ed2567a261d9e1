package match

import (
	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

type final struct{}

func (f *final) Type() config.RuleType {
	return config.RuleTypeFinal
}

func (f *final) Match(req *common.Request) bool {
	return true
}

func (f *final) String() string {
	return "*"
}

func NewFinal(rule *config.Rule) *final {
	return &final{}
}
