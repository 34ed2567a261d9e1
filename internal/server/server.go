// Package server is the forwarding layer: a plain HTTP/1.x forward proxy
// that runs every request through the inspection stage before sending it
// upstream, and relays CONNECT tunnels untouched.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
	"github.com/sunbk201/rulegate/internal/inspect"
	"github.com/sunbk201/rulegate/internal/metrics"
	"github.com/sunbk201/rulegate/internal/plugin"
	"github.com/sunbk201/rulegate/internal/rule"
	"github.com/sunbk201/rulegate/internal/statistics"
)

type Server struct {
	Cfg       *config.Config
	Rules     *rule.Store
	Plugins   *plugin.Manager
	Inspector *inspect.Inspector
	Recorder  *statistics.Recorder
	Metrics   *metrics.Metrics
	Dialer    *net.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	ln     net.Listener
	conns  sync.WaitGroup
}

// New wires the inspection stage to rules and plugins. recorder may be nil
// when statistics are disabled.
func New(cfg *config.Config, rules *rule.Store, plugins *plugin.Manager, recorder *statistics.Recorder, m *metrics.Metrics) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Cfg:       cfg,
		Rules:     rules,
		Plugins:   plugins,
		Inspector: inspect.New(rules, plugins),
		Recorder:  recorder,
		Metrics:   m,
		Dialer:    &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second},
		ctx:       ctx,
		cancel:    cancel,
	}
	plugins.OnPipe = s.recordPipe
	return s
}

// Start listens on the configured address and serves until Close.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}
	slog.Info("Proxy listening", slog.String("addr", ln.Addr().String()))
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = min(max(2*delay, 5*time.Millisecond), time.Second)
				slog.Warn("Accept", slog.Any("error", err), slog.Duration("retry", delay))
				time.Sleep(delay)
				continue
			}
			return fmt.Errorf("ln.Accept: %w", err)
		}
		delay = 0
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(s.ctx, conn)
		}()
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting and cancels every in-flight request.
func (s *Server) Close() error {
	s.cancel()
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.conns.Wait()
	return err
}

func (s *Server) recordPipe(req *common.Request, name string, dir plugin.Direction) {
	s.Metrics.PipeSockets.WithLabelValues(string(dir)).Inc()
	if s.Recorder != nil {
		s.Recorder.PipeRecordList.Record(&statistics.PipeRecord{
			Plugin:    name,
			Direction: string(dir),
			Host:      req.Host(),
			LastSeen:  time.Now(),
		})
	}
}
