package match

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

// SrcIP matches the client address the request arrived from.
type SrcIP struct {
	prefix netip.Prefix
}

func (s *SrcIP) Type() config.RuleType {
	return config.RuleTypeSrcIP
}

func (s *SrcIP) Match(req *common.Request) bool {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return s.prefix.Contains(addr.Unmap())
}

func (s *SrcIP) String() string {
	return s.prefix.String()
}

func (s *SrcIP) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(s.Type())),
		slog.String("ip_cidr", s.prefix.String()),
	)
}

func NewSrcIP(rule *config.Rule) (*SrcIP, error) {
	prefix, err := parsePrefix(rule.MatchValue)
	if err != nil {
		return nil, err
	}
	return &SrcIP{prefix: prefix}, nil
}

// parsePrefix accepts either a CIDR or a bare address.
func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("netip.ParseAddr: %w", err)
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("netip.ParsePrefix: %w", err)
	}
	return prefix.Masked(), nil
}
