// Package plugin hosts the in-process plugins that contribute rules and
// rewrite bodies through pipe sockets.
package plugin

import (
	"context"
	"errors"
	"net"

	"github.com/sunbk201/rulegate/internal/common"
	"github.com/sunbk201/rulegate/internal/config"
)

var ErrUnknownPlugin = errors.New("unknown plugin")

// Direction names one of the four body pipe ports.
type Direction string

const (
	ReqRead  Direction = "reqRead"
	ReqWrite Direction = "reqWrite"
	ResRead  Direction = "resRead"
	ResWrite Direction = "resWrite"
)

var Directions = []Direction{ReqRead, ReqWrite, ResRead, ResWrite}

type Plugin interface {
	Name() string
}

// RulesProvider is implemented by plugins that contribute rules for the
// requests they are enabled on.
type RulesProvider interface {
	Plugin
	Rules(ctx context.Context, req *common.Request) ([]config.Rule, error)
}

// PipeHandler is implemented by plugins that rewrite body bytes. ServePipe
// reads the original bytes from conn until EOF and writes the replacement
// back. The manager closes conn when ServePipe returns.
type PipeHandler interface {
	Plugin
	Ports() []Direction
	ServePipe(ctx context.Context, dir Direction, req *common.Request, conn net.Conn) error
}

// PipeResolver finds the pipe directive of a request.
type PipeResolver interface {
	ResolvePipe(req *common.Request) *common.Rule
}
