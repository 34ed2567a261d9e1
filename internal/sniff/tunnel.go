package sniff

import (
	"bufio"
	"bytes"
)

// SniffTunnel classifies the first bytes a client sends through a CONNECT
// tunnel. host is the TLS server name when one was offered.
func SniffTunnel(br *bufio.Reader) (proto Protocol, host string) {
	if sni, ok, _ := PeekServerName(br); ok {
		return TLS, sni
	}
	if isHTTP, _ := hasMethodPrefix(br); isHTTP {
		return HTTP, ""
	}
	if b, err := br.Peek(4); err == nil && bytes.Equal(b, []byte("SSH-")) {
		return SSH, ""
	}
	return TCP, ""
}
