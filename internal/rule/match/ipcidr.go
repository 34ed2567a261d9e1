package match

import (
	"encoding/json"
	"net/netip"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

// IPCIDR matches requests whose target host is an IP literal inside the
// prefix. Hostnames are never resolved.
type IPCIDR struct {
	prefix netip.Prefix
}

func (i *IPCIDR) Type() config.RuleType {
	return config.RuleTypeIPCIDR
}

func (i *IPCIDR) Match(req *common.Request) bool {
	addr, err := netip.ParseAddr(req.Host())
	if err != nil {
		return false
	}
	return i.prefix.Contains(addr.Unmap())
}

func (i *IPCIDR) String() string {
	return i.prefix.String()
}

func (i *IPCIDR) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":    i.Type(),
		"ip_cidr": i.prefix.String(),
	})
}

func NewIPCIDR(rule *config.Rule) (*IPCIDR, error) {
	prefix, err := parsePrefix(rule.MatchValue)
	if err != nil {
		return nil, err
	}
	return &IPCIDR{prefix: prefix}, nil
}
