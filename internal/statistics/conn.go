package statistics

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sunbk201/rulegate/internal/sniff"
)

// ConnectionRecordList tracks the CONNECT tunnels currently open.
type ConnectionRecordList struct {
	events   chan connEvent
	records  map[string]*ConnectionRecord
	mu       sync.RWMutex
	dumpFile string
}

// connEvent keeps opens and closes of one tunnel in order.
type connEvent struct {
	record *ConnectionRecord
	open   bool
}

type ConnectionRecord struct {
	Protocol  sniff.Protocol `json:"protocol"`
	SrcAddr   string         `json:"src_addr"`
	DestAddr  string         `json:"dest_addr"`
	StartTime time.Time      `json:"start_time"`
}

func NewConnectionRecordList(dumpFile string) *ConnectionRecordList {
	return &ConnectionRecordList{
		events:   make(chan connEvent, 1000),
		records:  make(map[string]*ConnectionRecord, 500),
		dumpFile: dumpFile,
	}
}

func (l *ConnectionRecordList) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()

		for {
			select {
			case ev := <-l.events:
				if ev.open {
					l.Add(ev.record)
				} else {
					l.Remove(ev.record)
				}
			case <-ticker.C:
				l.Dump()
			case <-ctx.Done():
				l.Dump()
				return
			}
		}
	}()
}

// Open queues the start of a tunnel.
func (l *ConnectionRecordList) Open(record *ConnectionRecord) {
	select {
	case l.events <- connEvent{record: record, open: true}:
	default:
	}
}

// Close queues the end of a tunnel.
func (l *ConnectionRecordList) Close(record *ConnectionRecord) {
	select {
	case l.events <- connEvent{record: record}:
	default:
	}
}

// Add inserts record, or updates the protocol of a known tunnel.
func (l *ConnectionRecordList) Add(record *ConnectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(record.SrcAddr, record.DestAddr)
	if r, ok := l.records[k]; ok {
		r.Protocol = record.Protocol
		return
	}
	r := *record
	if r.StartTime.IsZero() {
		r.StartTime = time.Now()
	}
	l.records[k] = &r
}

func (l *ConnectionRecordList) Remove(record *ConnectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key(record.SrcAddr, record.DestAddr))
}

// Snapshot returns the open tunnels, newest first.
func (l *ConnectionRecordList) Snapshot() []ConnectionRecord {
	l.mu.RLock()
	list := make([]ConnectionRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartTime.After(list[j].StartTime)
	})
	return list
}

func (l *ConnectionRecordList) Dump() {
	dumpFile(l.dumpFile, func(w *bufio.Writer) error {
		for _, r := range l.Snapshot() {
			if _, err := fmt.Fprintf(w, "%s %s %s %d\n",
				r.Protocol, r.SrcAddr, r.DestAddr, int(time.Since(r.StartTime).Seconds())); err != nil {
				return err
			}
		}
		return nil
	})
}
