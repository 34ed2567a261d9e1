package sniff

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestHasMethodPrefix(t *testing.T) {
	tests := []struct {
		input string
		want  bool
		err   error
	}{
		{"GET / HTTP/1.1\r\n", true, nil},
		{"OPTIONS * HTTP/1.1\r\n", true, nil},
		{"CONNECT a.com:443 HTTP/1.1\r\n", true, nil},
		{"get / HTTP/1.1\r\n", false, nil},
		{"GETX / HTTP/1.1\r\n", false, nil},
		{"PROPFIND / HTTP/1.1\r\n", false, nil},
		{"SSH-2.0-OpenSSH\r\n", false, nil},
		{"GE", false, io.EOF},
		{"", false, io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := hasMethodPrefix(bufio.NewReader(strings.NewReader(tt.input)))
			if !errors.Is(err, tt.err) {
				t.Fatalf("hasMethodPrefix(%q) error = %v, want %v", tt.input, err, tt.err)
			}
			if got != tt.want {
				t.Errorf("hasMethodPrefix(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSniffHTTP(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
		err   error
	}{
		{"http/1.1", "GET http://a.com/ HTTP/1.1\r\nHost: a.com\r\n\r\n", true, nil},
		{"http/1.0 bare LF", "POST /x HTTP/1.0\nHost: a\n\n", true, nil},
		{"http/2 preface", "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n", false, nil},
		{"unknown version", "GET / HTTP/3\r\n\r\n", false, nil},
		{"missing version", "GET /\r\n\r\n", false, nil},
		{"empty target", "GET  HTTP/1.1\r\n\r\n", false, nil},
		{"tls", "\x16\x03\x01\x02\x00", false, nil},
		{"line cut short", "GET / HTTP/1.1", false, io.EOF},
		{"line too long", "GET /" + strings.Repeat("a", MaxRequestLine) + " HTTP/1.1\r\n\r\n", false, ErrLineTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			br := bufio.NewReaderSize(strings.NewReader(tt.input), 64*1024)
			got, err := SniffHTTP(br)
			if !errors.Is(err, tt.err) {
				t.Fatalf("SniffHTTP error = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("SniffHTTP = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSniffHTTPConsumesNothing(t *testing.T) {
	input := "GET / HTTP/1.1\r\nHost: a\r\n\r\n"
	// One byte per read forces the line to be gathered across reads.
	br := bufio.NewReader(iotest.OneByteReader(strings.NewReader(input)))
	ok, err := SniffHTTP(br)
	if err != nil || !ok {
		t.Fatalf("SniffHTTP = (%v, %v)", ok, err)
	}
	rest, err := io.ReadAll(br)
	if err != nil || string(rest) != input {
		t.Fatalf("remaining = %q, %v", rest, err)
	}
}

func TestPeekLineBufferLimit(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader(strings.Repeat("a", 100)+"\n"), 16)
	if _, err := peekLine(br, MaxRequestLine); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("peekLine error = %v, want ErrLineTooLong", err)
	}
}
