package urlutil

import (
	"fmt"
	"net/url"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Params is a query-string overlay.
type Params map[string]string

// ParseRuleJSON parses a directive value into key/value pairs. It accepts a
// JSON object, a YAML mapping or an a=1&b=2 query string, optionally wrapped
// in parentheses. Anything else yields nil.
func ParseRuleJSON(value string) Params {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if v == "" {
		return nil
	}

	var m map[string]any
	if err := yaml.Unmarshal([]byte(v), &m); err == nil && len(m) > 0 {
		out := make(Params, len(m))
		for k, val := range m {
			out[k] = stringify(val)
		}
		return out
	}

	if !strings.Contains(v, "=") {
		return nil
	}
	q, err := url.ParseQuery(v)
	if err != nil || len(q) == 0 {
		return nil
	}
	out := make(Params, len(q))
	for k, vals := range q {
		if k == "" {
			continue
		}
		out[k] = vals[len(vals)-1]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
