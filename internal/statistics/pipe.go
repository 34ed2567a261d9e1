package statistics

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// PipeRecordList counts plugin pipe sockets opened per plugin, direction
// and host.
type PipeRecordList struct {
	recordAddChan chan *PipeRecord
	records       map[string]*PipeRecord
	mu            sync.RWMutex
	dumpFile      string
}

type PipeRecord struct {
	Plugin    string    `json:"plugin"`
	Direction string    `json:"direction"`
	Host      string    `json:"host"`
	Count     int       `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}

func NewPipeRecordList(dumpFile string) *PipeRecordList {
	return &PipeRecordList{
		recordAddChan: make(chan *PipeRecord, 100),
		records:       make(map[string]*PipeRecord, 100),
		dumpFile:      dumpFile,
	}
}

func (l *PipeRecordList) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()

		for {
			select {
			case record := <-l.recordAddChan:
				l.Add(record)
			case <-ticker.C:
				l.Dump()
			case <-ctx.Done():
				l.Dump()
				return
			}
		}
	}()
}

func (l *PipeRecordList) Record(record *PipeRecord) {
	select {
	case l.recordAddChan <- record:
	default:
	}
}

func (l *PipeRecordList) Add(record *PipeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(record.Plugin, record.Direction, record.Host)
	r, ok := l.records[k]
	if !ok {
		r = &PipeRecord{Plugin: record.Plugin, Direction: record.Direction, Host: record.Host}
		l.records[k] = r
	}
	r.Count++
	r.LastSeen = record.LastSeen
	if r.LastSeen.IsZero() {
		r.LastSeen = time.Now()
	}
}

// Snapshot returns the records, most recently used first.
func (l *PipeRecordList) Snapshot() []PipeRecord {
	l.mu.RLock()
	list := make([]PipeRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastSeen.After(list[j].LastSeen)
	})
	return list
}

func (l *PipeRecordList) Dump() {
	dumpFile(l.dumpFile, func(w *bufio.Writer) error {
		for _, r := range l.Snapshot() {
			if _, err := fmt.Fprintf(w, "%s %s %s %d\n", r.Plugin, r.Direction, r.Host, r.Count); err != nil {
				return err
			}
		}
		return nil
	})
}
