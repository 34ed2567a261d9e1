package common

import (
	"net/http"
	"strings"
)

// Header is a header map keyed by lower-case name.
type Header map[string][]string

// NewHeader copies h, lower-casing every key.
func NewHeader(h http.Header) Header {
	out := make(Header, len(h))
	for k, v := range h {
		key := strings.ToLower(k)
		out[key] = append(out[key], v...)
	}
	return out
}

func (h Header) Get(key string) string {
	if v := h[strings.ToLower(key)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (h Header) Has(key string) bool {
	_, ok := h[strings.ToLower(key)]
	return ok
}

func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = []string{value}
}

func (h Header) Add(key, value string) {
	key = strings.ToLower(key)
	h[key] = append(h[key], value)
}

func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// HTTP converts h back to an http.Header, naming each key after its raw
// wire casing when known.
func (h Header) HTTP(rawNames map[string]string) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[HeaderName(rawNames, k)] = append([]string(nil), v...)
	}
	return out
}

// RawHeaderNames maps each lower-case header name in raw (alternating name,
// value entries as received) to its first observed casing. Connection and
// Proxy-Authorization always receive a default.
func RawHeaderNames(raw []string) map[string]string {
	names := make(map[string]string, len(raw)/2+2)
	for i := 0; i < len(raw); i += 2 {
		name := raw[i]
		key := strings.ToLower(name)
		if _, ok := names[key]; !ok {
			names[key] = name
		}
	}
	if names["connection"] == "" {
		names["connection"] = "Connection"
	}
	if names["proxy-authorization"] == "" {
		names["proxy-authorization"] = "Proxy-Authorization"
	}
	return names
}

// HeaderName returns the wire casing recorded for key, falling back to the
// lower-case key itself.
func HeaderName(names map[string]string, key string) string {
	key = strings.ToLower(key)
	if n, ok := names[key]; ok && n != "" {
		return n
	}
	return key
}
