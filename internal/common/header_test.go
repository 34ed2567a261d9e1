package common

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawHeaderNames(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want map[string]string
	}{
		{"nil", nil, map[string]string{
			"connection":          "Connection",
			"proxy-authorization": "Proxy-Authorization",
		}},
		{"empty", []string{}, map[string]string{
			"connection":          "Connection",
			"proxy-authorization": "Proxy-Authorization",
		}},
		{"first casing wins", []string{"x-Trace", "1", "X-TRACE", "2", "CONNECTION", "close"}, map[string]string{
			"x-trace":             "x-Trace",
			"connection":          "CONNECTION",
			"proxy-authorization": "Proxy-Authorization",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RawHeaderNames(tt.raw))
		})
	}
}

func TestHeaderHTTP(t *testing.T) {
	h := NewHeader(http.Header{"X-Trace": {"1"}, "Content-Type": {"text/plain"}})
	out := h.HTTP(map[string]string{"x-trace": "x-TRACE"})

	assert.Equal(t, []string{"1"}, out["x-TRACE"])
	assert.Equal(t, []string{"text/plain"}, out["content-type"])
}

func TestMerge(t *testing.T) {
	base := &RuleSet{UA: &Rule{Kind: KindUA, Value: "base"}}
	overlay := &RuleSet{
		UA:     &Rule{Kind: KindUA, Value: "overlay"},
		Filter: &Rule{Kind: KindFilter, Value: "overlay"},
	}

	got := Merge(base, overlay)
	assert.Equal(t, "base", got.UA.Value)
	assert.Equal(t, "overlay", got.Filter.Value)
	assert.Nil(t, base.Filter)
	assert.Equal(t, 1, Merge(base, nil).Len())
	assert.Equal(t, 2, Merge(nil, overlay).Len())
}

func TestRuleValues(t *testing.T) {
	r := &Rule{Value: " a | b,c ,, "}
	assert.Equal(t, []string{"a", "b", "c"}, r.Values())
	assert.Nil(t, (*Rule)(nil).Values())
}

func TestTargetURL(t *testing.T) {
	assert.Equal(t, "HTTPS://a.com/", (&RuleSet{Rule: &Rule{Value: " HTTPS://a.com/ "}}).TargetURL())
	assert.Empty(t, (&RuleSet{Rule: &Rule{Value: "ws://a.com"}}).TargetURL())
	assert.Empty(t, (*RuleSet)(nil).TargetURL())
}

func TestAcceptsGzip(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"gzip", true},
		{"br, GZIP;q=0.8", true},
		{"gzip;q=0", false},
		{"*", true},
		{"deflate", false},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://example.com/", nil)
			r.Header.Set("Accept-Encoding", tt.accept)
			assert.Equal(t, tt.want, NewRequest(r, nil, false).AcceptsGzip())
		})
	}
}

func TestRequestPorts(t *testing.T) {
	req := NewRequest(httptest.NewRequest("GET", "http://example.com:8080/a", nil), nil, false)
	assert.Equal(t, "8080", req.DestPort())
	assert.Equal(t, "example.com", req.Host())

	req = NewRequest(httptest.NewRequest("GET", "/a", nil), nil, true)
	req.Headers.Set("host", "secure.example.com")
	req.RefreshURL()
	assert.Equal(t, "https://secure.example.com/a", req.FullURL)
	assert.Equal(t, "443", req.DestPort())
}
