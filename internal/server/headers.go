package server

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/urlutil"
)

var hopHeaders = []string{
	"connection",
	"proxy-connection",
	"keep-alive",
	"proxy-authenticate",
	"proxy-authorization",
	"te",
	"trailer",
	"transfer-encoding",
	"upgrade",
}

// removeHopHeaders drops hop-by-hop headers, including those the
// Connection header names.
func removeHopHeaders(h common.Header) {
	for _, v := range h["connection"] {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); httpguts.ValidHeaderFieldName(token) {
				h.Del(token)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// applyRequestDirectives applies the ua and reqHeaders directives.
func applyRequestDirectives(req *common.Request) {
	if r := req.Rules.Get(common.KindUA); r != nil && r.Value != "" {
		req.Headers.Set("user-agent", r.Value)
	}
	if r := req.Rules.Get(common.KindReqHeaders); r != nil {
		setHeaders(req.Headers, urlutil.ParseRuleJSON(r.Value))
	}
}

func applyResponseDirectives(req *common.Request, res *common.Response) {
	if r := req.Rules.Get(common.KindResHeaders); r != nil {
		setHeaders(res.Headers, urlutil.ParseRuleJSON(r.Value))
	}
}

// setHeaders sets every pair of params; an empty value deletes the header.
func setHeaders(h common.Header, params urlutil.Params) {
	for k, v := range params {
		if !httpguts.ValidHeaderFieldName(k) {
			continue
		}
		if v == "" {
			h.Del(k)
			continue
		}
		if httpguts.ValidHeaderFieldValue(v) {
			h.Set(k, v)
		}
	}
}

// canonicalHeader converts h for a response written back to the client.
func canonicalHeader(h common.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}
