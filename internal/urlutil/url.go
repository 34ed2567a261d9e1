// Package urlutil holds the URL helpers used while resolving rules.
package urlutil

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// FullURL returns the absolute form of rawURL. Origin-form targets are
// completed from the Host header and the connection scheme.
func FullURL(rawURL, host string, isHTTPS bool) string {
	if hasHTTPScheme(rawURL) {
		return rawURL
	}
	scheme := "http"
	if isHTTPS {
		scheme = "https"
	}
	if rawURL == "" || rawURL[0] != '/' {
		rawURL = "/" + rawURL
	}
	return scheme + "://" + host + rawURL
}

func hasHTTPScheme(s string) bool {
	if len(s) < 7 {
		return false
	}
	lower := strings.ToLower(s[:min(len(s), 8)])
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// IsHTTPURL reports whether s is an absolute http or https URL.
func IsHTTPURL(s string) bool {
	return hasHTTPScheme(s)
}

// ParseURL parses an absolute target URL.
func ParseURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("url.Parse: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", s)
	}
	return u, nil
}

// ReplaceQuery overlays params onto the query string of rawURL. Existing
// keys keep their position; new keys are appended in sorted order. Pairs
// whose value already matches keep their original encoding, so an overlay
// that changes nothing returns rawURL unchanged.
func ReplaceQuery(rawURL string, params Params) string {
	if len(params) == 0 {
		return rawURL
	}
	base, fragment, hasFragment := strings.Cut(rawURL, "#")
	path, query, _ := strings.Cut(base, "?")

	done := make(map[string]bool, len(params))
	var pairs []string
	if query != "" {
		for _, pair := range strings.Split(query, "&") {
			rawKey, rawVal, _ := strings.Cut(pair, "=")
			key, err := url.QueryUnescape(rawKey)
			if err != nil {
				key = rawKey
			}
			val, ok := params[key]
			if !ok {
				pairs = append(pairs, pair)
				continue
			}
			if done[key] {
				continue
			}
			done[key] = true
			if cur, err := url.QueryUnescape(rawVal); err == nil && cur == val && strings.Contains(pair, "=") {
				pairs = append(pairs, pair)
				continue
			}
			pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(val))
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if !done[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}

	out := path
	if len(pairs) > 0 {
		out += "?" + strings.Join(pairs, "&")
	}
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

// EncodeNonLatin1 percent-encodes every character above U+00FF and converts
// an internationalised host to its ASCII form.
func EncodeNonLatin1(s string) string {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return escapeNonLatin1(s)
	}
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	host, tail := rest[:end], rest[end:]
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	} else {
		host = escapeNonLatin1(host)
	}
	return scheme + "://" + host + escapeNonLatin1(tail)
}

func escapeNonLatin1(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r <= 0xff {
			b.WriteRune(r)
			continue
		}
		var buf [utf8.UTFMax]byte
		n := utf8.EncodeRune(buf[:], r)
		for _, c := range buf[:n] {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
