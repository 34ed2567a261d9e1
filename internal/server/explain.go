package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/inspect"
)

// Explanation is the outcome of inspecting a request without forwarding it.
type Explanation struct {
	URL       string           `json:"url"`
	Target    string           `json:"target"`
	Rules     *common.RuleSet  `json:"rules"`
	Plugins   []string         `json:"plugins,omitempty"`
	PipePorts common.PipePorts `json:"pipe_ports"`
	Enable    []string         `json:"enable,omitempty"`
}

// Explain runs a bodiless request through the inspection stage and reports
// what would be done with it.
func Explain(ctx context.Context, insp *inspect.Inspector, method, rawURL string, header http.Header) (*Explanation, error) {
	if method == "" {
		method = http.MethodGet
	}
	hreq, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequest: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.RequestURI = rawURL

	raw := make([]string, 0, 2*len(hreq.Header)+2)
	raw = append(raw, "Host", hreq.URL.Host)
	for k, vs := range hreq.Header {
		for _, v := range vs {
			raw = append(raw, k, v)
		}
	}

	req := common.NewRequest(hreq, raw, false)
	if err := insp.Inspect(ctx, req); err != nil {
		return nil, err
	}

	e := &Explanation{
		URL:       req.FullURL,
		Target:    req.Options.String(),
		Rules:     req.Rules,
		Plugins:   req.Plugins,
		PipePorts: req.PipePorts,
	}
	for name, on := range req.Enable {
		if on {
			e.Enable = append(e.Enable, name)
		}
	}
	sort.Strings(e.Enable)
	return e, nil
}
