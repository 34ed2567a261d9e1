package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sunbk201/rulegate/internal/server"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *s.cfg.Load()
	if cfg.APIServerSecret != "" {
		cfg.APIServerSecret = "******"
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *APIServer) handleRules(w http.ResponseWriter, r *http.Request) {
	e := s.proxy.Rules.Engine()
	writeJSON(w, http.StatusOK, map[string]any{
		"source": e.Name(),
		"rules":  e.Rules(),
	})
}

func (s *APIServer) handlePlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proxy.Plugins.Names())
}

// handleInspect reports what the proxy would do with a GET of ?url=.
func (s *APIServer) handleInspect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing url"))
		return
	}
	h := http.Header{}
	for _, v := range q["header"] {
		if name, value, ok := cutHeader(v); ok {
			h.Add(name, value)
		}
	}
	e, err := server.Explain(r.Context(), s.proxy.Inspector, q.Get("method"), target, h)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// cutHeader splits a "Name: value" query parameter.
func cutHeader(v string) (string, string, bool) {
	name, value, ok := strings.Cut(v, ":")
	name = strings.TrimSpace(name)
	return name, strings.TrimSpace(value), ok && name != ""
}

var errStatsDisabled = errors.New("statistics disabled")

func (s *APIServer) handleRewriteStats(w http.ResponseWriter, r *http.Request) {
	if s.proxy.Recorder == nil {
		writeError(w, http.StatusNotFound, errStatsDisabled)
		return
	}
	writeJSON(w, http.StatusOK, s.proxy.Recorder.RewriteRecordList.Snapshot())
}

func (s *APIServer) handlePipeStats(w http.ResponseWriter, r *http.Request) {
	if s.proxy.Recorder == nil {
		writeError(w, http.StatusNotFound, errStatsDisabled)
		return
	}
	writeJSON(w, http.StatusOK, s.proxy.Recorder.PipeRecordList.Snapshot())
}

func (s *APIServer) handleConnectionStats(w http.ResponseWriter, r *http.Request) {
	if s.proxy.Recorder == nil {
		writeError(w, http.StatusNotFound, errStatsDisabled)
		return
	}
	writeJSON(w, http.StatusOK, s.proxy.Recorder.ConnectionRecordList.Snapshot())
}
