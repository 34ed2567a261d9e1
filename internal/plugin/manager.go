package plugin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
	"github.com/sunbk201/rulegate/internal/rule"
	"github.com/sunbk201/rulegate/internal/stream"
)

// Manager is the plugin registry consulted by the inspection stage.
type Manager struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	pipes   PipeResolver

	// OnPipe is called for every pipe socket opened.
	OnPipe func(req *common.Request, name string, dir Direction)
}

func NewManager(pipes PipeResolver) *Manager {
	return &Manager{
		plugins: make(map[string]Plugin),
		pipes:   pipes,
	}
}

func (m *Manager) Register(p Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[p.Name()]; ok {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}
	m.plugins[p.Name()] = p
	return nil
}

// Replace swaps the whole registry.
func (m *Manager) Replace(plugins []Plugin) {
	next := make(map[string]Plugin, len(plugins))
	for _, p := range plugins {
		next[p.Name()] = p
	}
	m.mu.Lock()
	m.plugins = next
	m.mu.Unlock()
}

func (m *Manager) Get(name string) (Plugin, error) {
	m.mu.RLock()
	p, ok := m.plugins[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return p, nil
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ResolvePipePlugin grants the request the pipe ports of the plugin its
// pipe directive names.
func (m *Manager) ResolvePipePlugin(ctx context.Context, req *common.Request) error {
	if m.pipes == nil {
		return nil
	}
	r := m.pipes.ResolvePipe(req)
	if r == nil {
		return nil
	}
	values := r.Values()
	if len(values) == 0 {
		return nil
	}
	name := values[0]
	p, err := m.Get(name)
	if err != nil {
		slog.Warn("Pipe plugin not available", slog.String("plugin", name), slog.Any("request", req))
		return nil
	}
	h, ok := p.(PipeHandler)
	if !ok {
		slog.Warn("Plugin has no pipe", slog.String("plugin", name), slog.Any("request", req))
		return nil
	}
	for _, dir := range h.Ports() {
		switch dir {
		case ReqRead:
			req.PipePorts.ReqRead = name
		case ReqWrite:
			req.PipePorts.ReqWrite = name
		case ResRead:
			req.PipePorts.ResRead = name
		case ResWrite:
			req.PipePorts.ResWrite = name
		}
	}
	return ctx.Err()
}

func (m *Manager) GetReqReadPipe(ctx context.Context, req *common.Request) (stream.Stream, error) {
	return m.openPipe(ctx, req, ReqRead, req.PipePorts.ReqRead)
}

func (m *Manager) GetReqWritePipe(ctx context.Context, req *common.Request) (stream.Stream, error) {
	return m.openPipe(ctx, req, ReqWrite, req.PipePorts.ReqWrite)
}

func (m *Manager) GetResReadPipe(ctx context.Context, req *common.Request, res *common.Response) (stream.Stream, error) {
	return m.openPipe(ctx, req, ResRead, req.PipePorts.ResRead)
}

func (m *Manager) GetResWritePipe(ctx context.Context, req *common.Request, res *common.Response) (stream.Stream, error) {
	return m.openPipe(ctx, req, ResWrite, req.PipePorts.ResWrite)
}

func (m *Manager) openPipe(ctx context.Context, req *common.Request, dir Direction, name string) (stream.Stream, error) {
	if name == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := m.Get(name)
	if err != nil {
		return nil, fmt.Errorf("plugin.openPipe: %w", err)
	}
	h, ok := p.(PipeHandler)
	if !ok {
		return nil, fmt.Errorf("plugin.openPipe: %s has no %s port", name, dir)
	}

	local, remote := newConnPair(name)
	go func() {
		if err := h.ServePipe(ctx, dir, req, remote); err != nil {
			slog.Warn("ServePipe", slog.String("plugin", name), slog.String("dir", string(dir)), slog.Any("request", req), slog.Any("error", err))
			remote.CloseWithError(err)
			return
		}
		_ = remote.CloseWrite()
		// Let the stage finish writing input the plugin did not consume.
		_, _ = io.Copy(io.Discard, remote)
		_ = remote.Close()
	}()

	if m.OnPipe != nil {
		m.OnPipe(req, name, dir)
	}
	return stream.NewSocket(local, name, string(dir)), nil
}

// ResolvePlugins records the known plugins named by the plugin directive.
func (m *Manager) ResolvePlugins(req *common.Request) {
	req.Plugins = nil
	seen := make(map[string]bool)
	for _, name := range req.Rules.Get(common.KindPlugin).Values() {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := m.Get(name); err != nil {
			slog.Warn("Plugin not available", slog.String("plugin", name), slog.Any("request", req))
			continue
		}
		req.Plugins = append(req.Plugins, name)
	}
}

// GetRules collects the rules of every enabled plugin into one source. It
// returns nil when no enabled plugin provides rules.
func (m *Manager) GetRules(ctx context.Context, req *common.Request) (common.RuleSource, error) {
	var (
		rules []config.Rule
		names []string
	)
	for _, name := range req.Plugins {
		p, err := m.Get(name)
		if err != nil {
			continue
		}
		rp, ok := p.(RulesProvider)
		if !ok {
			continue
		}
		rs, err := rp.Rules(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", name, err)
		}
		rules = append(rules, rs...)
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return rule.NewEngine("plugin:"+strings.Join(names, ","), rules), nil
}
