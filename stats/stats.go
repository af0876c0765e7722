package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageLoad       Stage = "load"
	StageRedact     Stage = "redact"
	StageAI         Stage = "ai"
	StageCheckpoint Stage = "checkpoint"
)

type EventType string

const (
	EventTypeProcessed  EventType = "processed"
	EventTypeRedacted   EventType = "redacted"
	EventTypeResumed    EventType = "resumed"
	EventTypeBatchDone  EventType = "batch_done"
	EventTypeDuplicate  EventType = "duplicate"
	EventTypeFiltered   EventType = "filtered"
	EventTypeAIDegraded EventType = "ai_degraded"
	EventTypeError      EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Count     int
	Err       error
	Detail    string
}

type Summary struct {
	Processed  int
	Resumed    int
	Redactions int
	Batches    int
	Duplicates int
	Filtered   int
	AIDegraded int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"processed", s.Processed,
		"resumed", s.Resumed,
		"redactions", s.Redactions,
		"batches", s.Batches,
		"duplicates", s.Duplicates,
		"filtered", s.Filtered,
		"aiDegraded", s.AIDegraded,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeProcessed:
		c.summary.Processed++
	case EventTypeRedacted:
		c.summary.Redactions += evt.Count
	case EventTypeResumed:
		c.summary.Resumed += evt.Count
	case EventTypeBatchDone:
		c.summary.Batches++
	case EventTypeDuplicate:
		c.summary.Duplicates += evt.Count
	case EventTypeFiltered:
		c.summary.Filtered += evt.Count
	case EventTypeAIDegraded:
		c.summary.AIDegraded++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the highest-count entries of m, one per line.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Value > pairs[j].Value
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
