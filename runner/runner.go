// Package runner coordinates the redaction run: it slices the unprocessed
// remainder into fixed-size batches, fans them out to a bounded pool of
// workers and appends completed results to the durable checkpoint.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dhcgn/dsar-redact/checkpoint"
	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/stats"
)

// Processor runs one batch through the redaction pipeline.
type Processor interface {
	ProcessBatch(ctx context.Context, msgs []model.Message) ([]model.Message, []model.AuditEntry)
}

// State of a run.
type State string

const (
	StateFresh      State = "fresh"
	StateResuming   State = "resuming"
	StateProcessing State = "processing"
	StateCompleting State = "completing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Options tunes batching and worker concurrency.
type Options struct {
	BatchSize   int
	Concurrency int
}

// Result is the completed run output, built from the checkpoint.
type Result struct {
	RunID    string
	Messages []model.Message
	Entries  []model.AuditEntry
	Resumed  int
}

type batchResult struct {
	msgs    []model.Message
	entries []model.AuditEntry
}

// Coordinator owns the checkpoint exclusively; all appends happen under
// its lock, so two workers never interleave partial writes.
type Coordinator struct {
	store  *checkpoint.Store
	proc   Processor
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subMu           sync.Mutex
	subs            []chan stats.Event
	statsWG         sync.WaitGroup
	closeEventsOnce sync.Once

	// mu guards the checkpoint plus the pending/commit bookkeeping.
	mu         sync.Mutex
	pending    map[int]batchResult
	nextCommit int

	cursor int64

	stateMu sync.Mutex
	state   State

	errMu sync.Mutex
	err   error
}

// New builds a Coordinator around a checkpoint store and a batch
// processor.
func New(store *checkpoint.Store, proc Processor, opts Options, logger *slog.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("checkpoint store must not be nil")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor must not be nil")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:   store,
		proc:    proc,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[int]batchResult),
		state:   StateFresh,
	}, nil
}

// State returns the current run state.
func (c *Coordinator) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// EmitEvent broadcasts a stats event to every subscriber unless the run
// is shutting down. The lock is held across the sends so shutdown cannot
// close a channel mid-broadcast.
func (c *Coordinator) EmitEvent(evt stats.Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case <-c.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats attaches a stats consumer; must be called before Run.
// Each subscriber gets its own channel carrying the full event stream.
func (c *Coordinator) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()

	c.statsWG.Add(1)
	go func() {
		defer c.statsWG.Done()
		if err := fn(c.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			c.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// Run processes msgs and returns the full redacted collection. On a
// resumed run only messages at index >= the checkpoint's processedCount
// are processed. On unrecoverable error the checkpoint stays on disk and
// the returned error tells the operator to simply re-run.
func (c *Coordinator) Run(ctx context.Context, msgs []model.Message) (Result, error) {
	defer c.shutdown()

	cp, resumed, err := c.store.Load()
	if err != nil {
		err = fmt.Errorf("load checkpoint: %w", err)
		c.setState(StateFailed)
		c.fail(err)
		return Result{}, err
	}
	if resumed {
		c.setState(StateResuming)
		if c.logger != nil {
			c.logger.Info("resuming from checkpoint", "processed", cp.ProcessedCount, "total", len(msgs))
		}
		c.EmitEvent(stats.Event{Stage: stats.StageCheckpoint, Type: stats.EventTypeResumed, Count: cp.ProcessedCount})
	}

	total := len(msgs)
	alreadyDone := cp.ProcessedCount

	if cp.ProcessedCount >= total {
		return c.complete(cp, alreadyDone)
	}

	c.setState(StateProcessing)

	batches := chunk(msgs[cp.ProcessedCount:], c.opts.BatchSize)
	workers := c.opts.Concurrency
	if workers > len(batches) {
		workers = len(batches)
	}

	var workWG sync.WaitGroup
	for i := 0; i < workers; i++ {
		workWG.Add(1)
		go func() {
			defer workWG.Done()
			c.work(ctx, cp, batches)
		}()
	}
	workWG.Wait()

	if err := c.runErr(); err != nil {
		c.setState(StateFailed)
		if c.logger != nil {
			c.logger.Error("run failed; checkpoint retained, re-run to resume",
				"processed", cp.ProcessedCount, "total", total, "checkpoint", c.store.Path(), "err", err)
		}
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		c.setState(StateFailed)
		c.fail(err)
		return Result{}, err
	}

	return c.complete(cp, alreadyDone)
}

// work claims batches off the shared cursor until none remain. Each
// claimed batch runs to completion; there is no mid-batch cancellation.
func (c *Coordinator) work(ctx context.Context, cp *checkpoint.Checkpoint, batches [][]model.Message) {
	for {
		if ctx.Err() != nil || c.ctx.Err() != nil {
			return
		}

		idx := int(atomic.AddInt64(&c.cursor, 1)) - 1
		if idx >= len(batches) {
			return
		}

		out, entries := c.proc.ProcessBatch(ctx, batches[idx])
		if err := c.commit(cp, idx, batchResult{msgs: out, entries: entries}); err != nil {
			c.fail(err)
			return
		}

		for _, msg := range out {
			c.EmitEvent(stats.Event{Stage: stats.StageRedact, Type: stats.EventTypeProcessed, MessageID: msg.ID})
		}
		for _, entry := range entries {
			c.EmitEvent(stats.Event{Stage: stats.StageRedact, Type: stats.EventTypeRedacted, MessageID: entry.MessageID, Count: len(entry.Items)})
		}
		c.EmitEvent(stats.Event{Stage: stats.StageCheckpoint, Type: stats.EventTypeBatchDone})
	}
}

// commit merges a finished batch under the checkpoint lock. The
// append-only arrays and processedCount advance only across the
// contiguous prefix of finished batches, so a resume by index never
// duplicates or skips a message.
func (c *Coordinator) commit(cp *checkpoint.Checkpoint, idx int, res batchResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[idx] = res
	committed := false
	for {
		next, ok := c.pending[c.nextCommit]
		if !ok {
			break
		}
		delete(c.pending, c.nextCommit)
		cp.RedactedMessages = append(cp.RedactedMessages, next.msgs...)
		cp.AuditEntries = append(cp.AuditEntries, next.entries...)
		cp.ProcessedCount += len(next.msgs)
		c.nextCommit++
		committed = true
	}

	if !committed {
		return nil
	}
	if err := c.store.Save(cp); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	return nil
}

func (c *Coordinator) complete(cp *checkpoint.Checkpoint, resumed int) (Result, error) {
	c.setState(StateCompleting)

	result := Result{
		RunID:    cp.RunID,
		Messages: cp.RedactedMessages,
		Entries:  cp.AuditEntries,
		Resumed:  resumed,
	}

	if err := c.store.Delete(); err != nil {
		c.setState(StateFailed)
		return Result{}, err
	}

	c.setState(StateDone)
	return result, nil
}

func (c *Coordinator) shutdown() {
	c.closeEventsOnce.Do(func() {
		c.subMu.Lock()
		for _, ch := range c.subs {
			close(ch)
		}
		c.subs = nil
		c.subMu.Unlock()
	})
	c.statsWG.Wait()
	c.cancel()
}

// fail records the first error, reports it on the event stream and stops
// the run. The event goes out before the cancel so subscribers still see
// it.
func (c *Coordinator) fail(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	first := c.err == nil
	if first {
		c.err = err
	}
	c.errMu.Unlock()
	if !first {
		return
	}
	c.EmitEvent(stats.Event{Stage: stats.StageRedact, Type: stats.EventTypeError, Err: err})
	c.cancel()
}

func (c *Coordinator) runErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func chunk(msgs []model.Message, size int) [][]model.Message {
	var batches [][]model.Message
	for start := 0; start < len(msgs); start += size {
		end := start + size
		if end > len(msgs) {
			end = len(msgs)
		}
		batches = append(batches, msgs[start:end])
	}
	return batches
}
