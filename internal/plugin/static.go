package plugin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/dlclark/regexp2"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

// Static is a plugin defined in the config file. It contributes a fixed
// rule list and, when configured, rewrites bodies with a regex.
type Static struct {
	name    string
	rules   []config.Rule
	ports   []Direction
	regex   *regexp2.Regexp
	replace string
}

func NewStatic(cfg config.Plugin) (*Static, error) {
	s := &Static{name: cfg.Name, rules: cfg.Rules}
	if cfg.Pipe != nil {
		regex, err := regexp2.Compile(cfg.Pipe.Regex, regexp2.Multiline)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: regexp2.Compile: %w", cfg.Name, err)
		}
		s.regex = regex
		s.replace = cfg.Pipe.Replace
		for _, d := range cfg.Pipe.Directions {
			s.ports = append(s.ports, Direction(d))
		}
	}
	return s, nil
}

// FromConfig builds the configured plugins.
func FromConfig(cfgs []config.Plugin) ([]Plugin, error) {
	plugins := make([]Plugin, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := NewStatic(cfg)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

func (s *Static) Name() string {
	return s.name
}

func (s *Static) Rules(ctx context.Context, req *common.Request) ([]config.Rule, error) {
	return append([]config.Rule(nil), s.rules...), nil
}

func (s *Static) Ports() []Direction {
	return s.ports
}

func (s *Static) ServePipe(ctx context.Context, dir Direction, req *common.Request, conn net.Conn) error {
	if s.regex == nil {
		_, err := io.Copy(conn, conn)
		return err
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("io.ReadAll: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := s.regex.Replace(string(data), s.replace, -1, -1)
	if err != nil {
		return fmt.Errorf("regexp2.Replace: %w", err)
	}
	if _, err := io.WriteString(conn, out); err != nil {
		return fmt.Errorf("io.WriteString: %w", err)
	}
	slog.Debug("Body rewritten", slog.String("plugin", s.name), slog.String("dir", string(dir)), slog.Int("in", len(data)), slog.Int("out", len(out)))
	return nil
}

func (s *Static) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.name),
		slog.Int("rules", len(s.rules)),
		slog.Int("ports", len(s.ports)),
	)
}
