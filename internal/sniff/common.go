package sniff

import (
	"bufio"
	"bytes"
	"strings"
)

// Protocol sniffed protocol types
type Protocol string

const (
	TCP  Protocol = "TCP"
	HTTP Protocol = "HTTP"
	TLS  Protocol = "TLS"
	SSH  Protocol = "SSH"
)

// peekLine returns the first line of br without its CRLF and without
// consuming it. It reads only as far as the line needs, up to limit bytes
// or the buffer size, whichever is smaller.
func peekLine(br *bufio.Reader, limit int) (string, error) {
	limit = min(limit, br.Size())
	n, scanned := 1, 0
	for {
		buf, err := br.Peek(n)
		if i := bytes.IndexByte(buf[scanned:], '\n'); i >= 0 {
			return strings.TrimSuffix(string(buf[:scanned+i]), "\r"), nil
		}
		if err != nil {
			return "", err
		}
		if n >= limit {
			return "", ErrLineTooLong
		}
		scanned = len(buf)
		n = min(max(br.Buffered(), n)+1, limit)
	}
}
