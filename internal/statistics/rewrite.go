package statistics

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RewriteRecordList counts urlParams rewrites per host.
type RewriteRecordList struct {
	recordAddChan chan *RewriteRecord
	records       map[string]*RewriteRecord
	mu            sync.RWMutex
	dumpFile      string
}

type RewriteRecord struct {
	Host         string `json:"host"`
	Count        int    `json:"count"`
	OriginalURL  string `json:"original_url"`
	RewrittenURL string `json:"rewritten_url"`
}

func NewRewriteRecordList(dumpFile string) *RewriteRecordList {
	return &RewriteRecordList{
		recordAddChan: make(chan *RewriteRecord, 100),
		records:       make(map[string]*RewriteRecord, 300),
		dumpFile:      dumpFile,
	}
}

func (l *RewriteRecordList) Run(ctx context.Context) {
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

// Record queues record without blocking; it is dropped when the queue is
// full.
func (l *RewriteRecordList) Record(record *RewriteRecord) {
	select {
	case l.recordAddChan <- record:
	default:
	}
}

func (l *RewriteRecordList) Add(record *RewriteRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[record.Host]
	if !ok {
		r = &RewriteRecord{Host: record.Host}
		l.records[record.Host] = r
	}
	r.Count++
	r.OriginalURL = record.OriginalURL
	r.RewrittenURL = record.RewrittenURL
}

// Snapshot returns the records, most frequent first.
func (l *RewriteRecordList) Snapshot() []RewriteRecord {
	l.mu.RLock()
	list := make([]RewriteRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Host < list[j].Host
	})
	return list
}

func (l *RewriteRecordList) Dump() {
	dumpFile(l.dumpFile, func(w *bufio.Writer) error {
		for _, r := range l.Snapshot() {
			if _, err := fmt.Fprintf(w, "%s %d %sSEQSEQ%s\n", r.Host, r.Count, r.OriginalURL, r.RewrittenURL); err != nil {
				return err
			}
		}
		return nil
	})
}
