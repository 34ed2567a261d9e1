package inspect

import (
	"context"
	"fmt"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/stream"
)

type pipeOpener func(ctx context.Context) (stream.Stream, error)

// transcoder builds the decode and encode stages of one payload. decoded
// remembers which content encoding the decode stage removed, so the encode
// stage knows what the body looks like when it gets there.
type transcoder struct {
	p         *common.Payload
	origin    string
	decoded   string
	gzip      func() bool
	openRead  pipeOpener
	openWrite pipeOpener
}

func installTranscoders(p *common.Payload, gzip func() bool, read, write pipeOpener) {
	origin := stream.NormalizeEncoding(p.OriginEncoding)
	if origin == "identity" {
		origin = ""
	}
	t := &transcoder{
		p:         p,
		origin:    origin,
		gzip:      gzip,
		openRead:  read,
		openWrite: write,
	}
	p.SetTranscoders(t.decode, t.encode)
}

func (t *transcoder) decode(ctx context.Context) (stream.Stream, error) {
	socket, err := t.openRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect.decode: %w", err)
	}

	var decoder stream.Stream
	current := stream.NormalizeEncoding(t.p.Headers.Get("content-encoding"))
	if t.p.NeedsRecode() || socket != nil || t.origin != current {
		t.p.MarkRecode()
		if t.origin != "" {
			if decoder = stream.UnzipStream(t.origin); decoder != nil {
				t.decoded = t.origin
			}
		}
	}

	s := stream.Compose(decoder, socket)
	if s != nil {
		t.p.Headers.Del("content-length")
	}
	return s, nil
}

func (t *transcoder) encode(ctx context.Context) (stream.Stream, error) {
	socket, err := t.openWrite(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect.encode: %w", err)
	}

	var encoding string
	switch {
	case t.gzip() && (t.p.NeedsRecode() || t.origin == ""):
		encoding = stream.EncodingGzip
	case t.p.NeedsRecode():
		encoding = t.origin
	}
	// Body still carries an encoding that was never removed.
	if t.origin != "" && t.decoded == "" && t.p.NeedsRecode() {
		encoding = ""
	}

	// A decoded body always gets an encoder back: decoding implies a
	// supported origin encoding and a marked recode.
	var encoder stream.Stream
	if encoding != "" {
		if encoder = stream.ZipStream(encoding); encoder != nil {
			t.p.Headers.Set("content-encoding", encoding)
		}
	}

	if socket != nil {
		t.p.NotifyBodyStreamReady(socket)
	}
	s := stream.Compose(socket, encoder)
	if s != nil {
		t.p.Headers.Del("content-length")
	}
	return s, nil
}

func noGzip() bool { return false }
