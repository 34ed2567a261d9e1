package sniff

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake   = 0x16
	handshakeClientHello  = 0x01
	extensionServerName   = 0x0000
	serverNameTypeHost    = 0x00
	maxPlaintextRecordLen = 16384
)

// IsTLSRecord reports whether the buffered bytes start a TLS handshake
// record.
func IsTLSRecord(br *bufio.Reader) bool {
	header, err := br.Peek(3)
	if err != nil {
		return false
	}
	return header[0] == recordTypeHandshake && header[1] == 0x03 && header[2] >= 0x01 && header[2] <= 0x04
}

// PeekServerName extracts the SNI of the TLS ClientHello buffered in br
// without consuming it. ok is false when the bytes are not a ClientHello.
func PeekServerName(br *bufio.Reader) (sni string, ok bool, err error) {
	if !IsTLSRecord(br) {
		return "", false, nil
	}
	header, err := br.Peek(5)
	if err != nil {
		return "", false, err
	}
	n := int(binary.BigEndian.Uint16(header[3:5]))
	if n == 0 || n > maxPlaintextRecordLen {
		return "", false, nil
	}
	record, err := br.Peek(min(5+n, br.Size()))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", false, err
	}
	sni, ok = parseClientHello(record[5:])
	return sni, ok, nil
}

// parseClientHello walks a (possibly truncated) handshake message.
func parseClientHello(data []byte) (string, bool) {
	s := cryptobyte.String(data)
	var msgType uint8
	var body cryptobyte.String
	if !s.ReadUint8(&msgType) || msgType != handshakeClientHello {
		return "", false
	}
	if !s.ReadUint24LengthPrefixed(&body) {
		// Truncated record; parse what is there.
		if len(s) < 3 {
			return "", false
		}
		body = s[3:]
	}

	var sessionID, ciphers, compression, exts cryptobyte.String
	if !body.Skip(2+32) ||
		!body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16LengthPrefixed(&ciphers) ||
		!body.ReadUint8LengthPrefixed(&compression) {
		return "", true
	}
	if body.Empty() || !body.ReadUint16LengthPrefixed(&exts) {
		return "", true
	}
	for !exts.Empty() {
		var typ uint16
		var ext cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&ext) {
			break
		}
		if typ != extensionServerName {
			continue
		}
		var names cryptobyte.String
		if !ext.ReadUint16LengthPrefixed(&names) {
			break
		}
		for !names.Empty() {
			var nameType uint8
			var name cryptobyte.String
			if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
				break
			}
			if nameType == serverNameTypeHost && validHostname(string(name)) {
				return string(name), true
			}
		}
	}
	return "", true
}

func validHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, c := range host {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
