package match

import (
	"strings"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

type Method struct {
	methods []string
}

func (m *Method) Type() config.RuleType {
	return config.RuleTypeMethod
}

func (m *Method) Match(req *common.Request) bool {
	for _, method := range m.methods {
		if strings.EqualFold(req.Method, method) {
			return true
		}
	}
	return false
}

func (m *Method) String() string {
	return strings.Join(m.methods, ",")
}

// NewMethod accepts a comma separated method list.
func NewMethod(rule *config.Rule) *Method {
	var methods []string
	for _, m := range strings.Split(rule.MatchValue, ",") {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, strings.ToUpper(m))
		}
	}
	return &Method{methods: methods}
}
