package match

import (
	"fmt"
	"strconv"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

type DestPort struct {
	port uint16
}

func (d *DestPort) Type() config.RuleType {
	return config.RuleTypeDestPort
}

func (d *DestPort) Match(req *common.Request) bool {
	port, err := strconv.ParseUint(req.DestPort(), 10, 16)
	if err != nil {
		return false
	}
	return uint16(port) == d.port
}

func (d *DestPort) String() string {
	return strconv.Itoa(int(d.port))
}

func NewDestPort(rule *config.Rule) (*DestPort, error) {
	port, err := strconv.ParseUint(rule.MatchValue, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("strconv.ParseUint: %w", err)
	}
	return &DestPort{port: uint16(port)}, nil
}
