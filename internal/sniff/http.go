package sniff

import (
	"bufio"
	"errors"
	"strings"
)

// ErrLineTooLong is returned when no request line ends within the limit.
var ErrLineTooLong = errors.New("request line too long")

// MaxRequestLine bounds the request line SniffHTTP waits for.
const MaxRequestLine = 8 << 10

var methods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"HEAD":    true,
	"CONNECT": true,
	"PUT":     true,
	"DELETE":  true,
	"OPTIONS": true,
	"PATCH":   true,
	"TRACE":   true,
}

const maxMethodLen = 7

// hasMethodPrefix reports whether the stream starts with a known method
// followed by a space. It peeks one byte at a time so it never waits for
// more than the method needs.
func hasMethodPrefix(br *bufio.Reader) (bool, error) {
	for n := 1; n <= maxMethodLen+1; n++ {
		buf, err := br.Peek(n)
		if err != nil {
			return false, err
		}
		c := buf[n-1]
		if c == ' ' {
			return methods[string(buf[:n-1])], nil
		}
		if c < 'A' || c > 'Z' {
			return false, nil
		}
	}
	return false, nil
}

// parseRequestLine splits "GET /foo HTTP/1.1" into its three parts.
func parseRequestLine(line string) (method, target, proto string, ok bool) {
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || target == "" {
		return "", "", "", false
	}
	return method, target, proto, true
}

// SniffHTTP reports whether br starts with an HTTP/1.0 or HTTP/1.1 request
// line. Nothing is consumed. A stream that starts like a request but whose
// line does not end within MaxRequestLine yields ErrLineTooLong.
func SniffHTTP(br *bufio.Reader) (bool, error) {
	ok, err := hasMethodPrefix(br)
	if err != nil || !ok {
		return false, err
	}
	line, err := peekLine(br, MaxRequestLine)
	if err != nil {
		return false, err
	}
	_, _, proto, ok := parseRequestLine(line)
	return ok && (proto == "HTTP/1.1" || proto == "HTTP/1.0"), nil
}
