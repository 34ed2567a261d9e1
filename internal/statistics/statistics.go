// Package statistics keeps running tallies of what the proxy did and dumps
// them to plain text files every few seconds.
package statistics

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

const dumpInterval = 5 * time.Second

type Recorder struct {
	RewriteRecordList    *RewriteRecordList
	PipeRecordList       *PipeRecordList
	ConnectionRecordList *ConnectionRecordList
}

// NewRecorder creates the record lists, naming each dump file through
// path.
func NewRecorder(path func(name string) string) *Recorder {
	return &Recorder{
		RewriteRecordList:    NewRewriteRecordList(path("rewrite_stats")),
		PipeRecordList:       NewPipeRecordList(path("pipe_stats")),
		ConnectionRecordList: NewConnectionRecordList(path("conn_stats")),
	}
}

// Start runs every list until ctx is done.
func (r *Recorder) Start(ctx context.Context) {
	r.RewriteRecordList.Run(ctx)
	r.PipeRecordList.Run(ctx)
	r.ConnectionRecordList.Run(ctx)
}

// dumpFile rewrites path with the lines produced by write.
func dumpFile(path string, write func(w *bufio.Writer) error) {
	f, err := os.Create(path)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		slog.Error("statistics dump", slog.String("file", path), slog.Any("error", err))
		return
	}
	if err := w.Flush(); err != nil {
		slog.Error("bufio.Writer.Flush", slog.Any("error", err))
	}
}

func key(parts ...string) string {
	return strings.Join(parts, "\x00")
}
