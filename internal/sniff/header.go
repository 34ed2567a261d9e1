package sniff

import (
	"bufio"
	"bytes"
	"errors"
)

var (
	ErrBadProto       = errors.New("bad protocol")
	ErrMissingData    = errors.New("missing data")
	ErrHeaderTooLarge = errors.New("request head exceeds buffer")
)

// Head is a request head as it appeared on the wire.
type Head struct {
	Method, Target, Proto string
	// Raw holds the header fields in order, alternating name and value, with
	// the original casing of every name.
	Raw []string
	// Size is the length of the head including the terminating blank line.
	Size int
}

const (
	stNextHeader int = iota
	stNextHeaderN
	stName
	stValueSpace
	stValue
	stValueN
	stFoldStart
	stFoldValue
)

// ParseHead parses a complete request head. It returns ErrMissingData when
// input ends before the blank line.
func ParseHead(input []byte) (*Head, error) {
	total := len(input)
	h := &Head{}

	sp := bytes.IndexAny(input, " \t")
	if sp < 0 {
		return nil, ErrMissingData
	}
	h.Method = string(input[:sp])

	rest := input[sp+1:]
	sp2 := bytes.IndexAny(rest, " \t")
	if sp2 < 0 {
		return nil, ErrMissingData
	}
	h.Target = string(rest[:sp2])

	versionStart := sp + 1 + sp2 + 1
	nl := bytes.IndexByte(input[versionStart:], '\n')
	if nl < 0 {
		return nil, ErrMissingData
	}
	h.Proto = string(bytes.TrimSuffix(input[versionStart:versionStart+nl], []byte("\r")))

	var name []byte
	state := stNextHeader
	start := versionStart + nl + 1

	for i := start; i < total; i++ {
		c := input[i]
		switch state {
		case stNextHeader:
			switch c {
			case '\r':
				state = stNextHeaderN
			case '\n':
				h.Size = i + 1
				return h, nil
			case ' ', '\t':
				if len(h.Raw) == 0 {
					return nil, ErrBadProto
				}
				state = stFoldStart
			default:
				start = i
				state = stName
			}
		case stNextHeaderN:
			if c != '\n' {
				return nil, ErrBadProto
			}
			h.Size = i + 1
			return h, nil
		case stName:
			switch c {
			case ':':
				name = input[start:i]
				state = stValueSpace
			case '\r', '\n':
				return nil, ErrBadProto
			}
		case stValueSpace:
			if c == ' ' || c == '\t' {
				continue
			}
			start = i
			state = stValue
			if c == '\r' || c == '\n' {
				h.Raw = append(h.Raw, string(name), "")
				state = endOfLine(c)
			}
		case stValue:
			if c != '\r' && c != '\n' {
				continue
			}
			h.Raw = append(h.Raw, string(name), string(bytes.TrimRight(input[start:i], " \t")))
			state = endOfLine(c)
		case stValueN:
			if c != '\n' {
				return nil, ErrBadProto
			}
			state = stNextHeader
		case stFoldStart:
			if c == ' ' || c == '\t' {
				continue
			}
			start = i
			state = stFoldValue
			if c == '\r' || c == '\n' {
				state = endOfLine(c)
			}
		case stFoldValue:
			if c != '\r' && c != '\n' {
				continue
			}
			last := len(h.Raw) - 1
			h.Raw[last] += " " + string(bytes.TrimRight(input[start:i], " \t"))
			state = endOfLine(c)
		}
	}
	return nil, ErrMissingData
}

func endOfLine(c byte) int {
	if c == '\r' {
		return stValueN
	}
	return stNextHeader
}

// PeekHead parses the request head buffered in br without consuming it.
// It reads from the underlying reader until the head is complete or the
// buffer is full.
func PeekHead(br *bufio.Reader) (*Head, error) {
	n := br.Buffered()
	if n == 0 {
		n = 1
	}
	for {
		buf, err := br.Peek(n)
		if len(buf) > 0 {
			h, perr := ParseHead(buf)
			if perr == nil {
				return h, nil
			}
			if !errors.Is(perr, ErrMissingData) {
				return nil, perr
			}
		}
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return nil, ErrHeaderTooLarge
			}
			return nil, err
		}
		if len(buf) >= br.Size() {
			return nil, ErrHeaderTooLarge
		}
		n = max(len(buf)+1, br.Buffered())
	}
}

// ReadRawHeaders returns the raw header list of the request buffered in br.
func ReadRawHeaders(br *bufio.Reader) ([]string, error) {
	h, err := PeekHead(br)
	if err != nil {
		return nil, err
	}
	return h.Raw, nil
}
