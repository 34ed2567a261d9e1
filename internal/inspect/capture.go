package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/stream"
)

var ErrCapture = errors.New("body capture failed")

// Capture caps, in bytes.
const (
	CapNone       int64 = 0
	CapSniff      int64 = 1
	CapBodyFilter int64 = 256 << 10
	CapUnlimited  int64 = -1
)

// CaptureCap decides whether the request body must be buffered before rule
// setup, and how much of it.
func CaptureCap(hasBodyFilter, hasReqReadPort, hasReqScript bool) (limit int64, required bool) {
	switch {
	case hasBodyFilter:
		return CapBodyFilter, true
	case !hasReqReadPort:
		return CapNone, false
	case hasReqScript:
		return CapUnlimited, true
	default:
		return CapSniff, true
	}
}

// captureBody buffers up to limit bytes of the request body. The unread
// remainder stays behind the captured bytes in req.Body, so the body still
// streams out in full.
func captureBody(req *common.Request, limit int64) error {
	if req.Body == nil {
		req.CapturedBody = []byte{}
		return nil
	}
	r := req.Body
	if limit >= 0 {
		r = io.LimitReader(req.Body, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}
	if data == nil {
		data = []byte{}
	}
	req.CapturedBody = data
	req.Body = io.MultiReader(bytes.NewReader(data), req.Body)
	if limit != CapSniff {
		req.CapturedText = bodyText(data, req.OriginEncoding, req.Headers.Get("content-type"))
	}
	return nil
}

// bodyText turns captured bytes into UTF-8 text. Compressed bodies are
// inflated as far as the captured prefix allows.
func bodyText(data []byte, encoding, contentType string) string {
	if len(data) == 0 {
		return ""
	}
	plain := data
	if s := stream.UnzipStream(encoding); s != nil {
		out, _ := io.ReadAll(s.Pipe(bytes.NewReader(data)))
		plain = out
	}
	if utf8.Valid(plain) {
		return string(plain)
	}
	enc, _, _ := charset.DetermineEncoding(plain, contentType)
	text, err := enc.NewDecoder().Bytes(plain)
	if err != nil {
		return string(plain)
	}
	return string(text)
}
