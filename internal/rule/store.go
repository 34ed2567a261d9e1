// Package rule resolves the directive set of a request from configured,
// per-file and per-request rule lists.
package rule

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

// Store is the rule backend of the inspection stage. The configured engine
// can be swapped at runtime.
type Store struct {
	engine atomic.Pointer[Engine]
	files  *FileLoader
	header string
}

func NewStore(cfg *config.Config) *Store {
	s := &Store{
		files:  NewFileLoader(cfg.RulesDir),
		header: strings.ToLower(cfg.RulesHeader),
	}
	s.Reload(cfg.Rules)
	return s
}

// Reload replaces the configured rules.
func (s *Store) Reload(rules []config.Rule) {
	e := NewEngine("config", rules)
	s.engine.Store(e)
	slog.Info("Rules loaded", slog.Any("engine", e))
}

func (s *Store) Engine() *Engine {
	return s.engine.Load()
}

// ResolveRules resolves the configured rules. Header-scoped rules, when
// present, take precedence.
func (s *Store) ResolveRules(req *common.Request) *common.RuleSet {
	rs := s.Engine().ResolveRules(req)
	if e, ok := req.HeaderRules.(*Engine); ok {
		rs = common.Merge(e.ResolveRules(req), rs)
	}
	return rs
}

// ResolvePipe returns the pipe directive selecting the request's pipe
// plugin, looked up before any body is read. Pipes are negotiated before
// header rules are parsed, so only configured rules can pick a pipe plugin.
func (s *Store) ResolvePipe(req *common.Request) *common.Rule {
	return s.Engine().Resolve(req, common.KindPipe)
}

// HasReqScript reports whether a request script applies to req.
func (s *Store) HasReqScript(req *common.Request) bool {
	if s.Engine().Resolve(req, common.KindReqScript) != nil {
		return true
	}
	if e, ok := req.HeaderRules.(*Engine); ok {
		return e.Resolve(req, common.KindReqScript) != nil
	}
	return false
}

// ResolveBodyFilter reports whether resolving req needs its body.
func (s *Store) ResolveBodyFilter(req *common.Request) bool {
	if s.Engine().HasBodyFilter(req) {
		return true
	}
	if e, ok := req.HeaderRules.(*Engine); ok {
		return e.HasBodyFilter(req)
	}
	return false
}

// InitHeaderRules attaches the rule list carried in the rules header, if
// any. The header is consumed and never forwarded.
func (s *Store) InitHeaderRules(req *common.Request) {
	if s.header == "" {
		return
	}
	value := req.Headers.Get(s.header)
	if value == "" {
		return
	}
	req.Headers.Del(s.header)

	rules, err := config.ParseRules([]byte(value))
	if err != nil {
		unescaped, uerr := url.QueryUnescape(value)
		if uerr != nil {
			slog.Warn("Invalid header rules", slog.Any("request", req), slog.Any("error", err))
			return
		}
		if rules, err = config.ParseRules([]byte(unescaped)); err != nil {
			slog.Warn("Invalid header rules", slog.Any("request", req), slog.Any("error", err))
			return
		}
	}
	e := NewEngine("header", rules)
	if e.Len() == 0 {
		return
	}
	req.HeaderRules = e
}

// ResolveRulesFile merges the rules of the file named by the rulesFile
// directive into req.Rules. Directives already resolved win. A missing file
// is not an error.
func (s *Store) ResolveRulesFile(ctx context.Context, req *common.Request) error {
	r := req.Rules.Get(common.KindRulesFile)
	if r == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.files.Load(r.Value)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Rules file not found", slog.String("file", r.Value), slog.Any("request", req))
			return nil
		}
		return fmt.Errorf("rule.ResolveRulesFile: %w", err)
	}
	result := e.ResolveRules(req)
	result.RulesFile = nil
	req.Rules = common.Merge(req.Rules, result)
	return nil
}
