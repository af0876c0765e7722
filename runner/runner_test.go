package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dhcgn/dsar-redact/checkpoint"
	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/stats"
)

// recordingProcessor passes messages through and remembers which IDs it
// was handed.
type recordingProcessor struct {
	mu      sync.Mutex
	seenIDs []string
	delay   bool
	onBatch func()
}

func (p *recordingProcessor) ProcessBatch(ctx context.Context, msgs []model.Message) ([]model.Message, []model.AuditEntry) {
	if p.delay {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
	}
	if p.onBatch != nil {
		p.onBatch()
	}

	out := make([]model.Message, len(msgs))
	var entries []model.AuditEntry
	for i, m := range msgs {
		m.Body = "redacted:" + m.ID
		out[i] = m
		entries = append(entries, model.AuditEntry{MessageID: m.ID})
	}

	p.mu.Lock()
	for _, m := range msgs {
		p.seenIDs = append(p.seenIDs, m.ID)
	}
	p.mu.Unlock()
	return out, entries
}

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seenIDs...)
}

func testMessages(n int) []model.Message {
	msgs := make([]model.Message, n)
	for i := range msgs {
		msgs[i] = model.Message{ID: fmt.Sprintf("%d", i+1)}
	}
	return msgs
}

func newTestStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir(), true)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func drainStats(c *Coordinator) {
	c.SubscribeStats("drain", func(ctx context.Context, events <-chan stats.Event) error {
		for range events {
		}
		return nil
	})
}

func TestCoordinator_FreshRun(t *testing.T) {
	store := newTestStore(t)
	proc := &recordingProcessor{}

	c, err := New(store, proc, Options{BatchSize: 3, Concurrency: 1}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	drainStats(c)

	msgs := testMessages(7)
	result, err := c.Run(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Messages) != 7 {
		t.Fatalf("expected 7 messages, got %d", len(result.Messages))
	}
	for i, m := range result.Messages {
		if m.ID != msgs[i].ID {
			t.Errorf("order broken at %d: %q != %q", i, m.ID, msgs[i].ID)
		}
		if m.Body != "redacted:"+m.ID {
			t.Errorf("message %s not processed: %q", m.ID, m.Body)
		}
	}
	if len(result.Entries) != 7 {
		t.Errorf("expected 7 entries, got %d", len(result.Entries))
	}
	if result.Resumed != 0 {
		t.Errorf("fresh run reported resume: %d", result.Resumed)
	}
	if c.State() != StateDone {
		t.Errorf("state = %s, want %s", c.State(), StateDone)
	}

	// Checkpoint removed on success.
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("checkpoint survived a successful run")
	}
}

func TestCoordinator_Resume(t *testing.T) {
	store := newTestStore(t)
	msgs := testMessages(10)

	// A previous run finished the first 4 messages.
	cp, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		m := msgs[i]
		m.Body = "redacted:" + m.ID
		cp.RedactedMessages = append(cp.RedactedMessages, m)
		cp.AuditEntries = append(cp.AuditEntries, model.AuditEntry{MessageID: m.ID})
	}
	cp.ProcessedCount = 4
	if err := store.Save(cp); err != nil {
		t.Fatal(err)
	}

	proc := &recordingProcessor{}
	c, err := New(store, proc, Options{BatchSize: 2, Concurrency: 1}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	drainStats(c)

	result, err := c.Run(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Only the remainder was processed.
	seen := proc.seen()
	if len(seen) != 6 {
		t.Fatalf("expected 6 processed, got %d: %v", len(seen), seen)
	}
	for i, id := range seen {
		if want := fmt.Sprintf("%d", i+5); id != want {
			t.Errorf("processed %q, want %q", id, want)
		}
	}

	// No duplicates, no gaps.
	if len(result.Messages) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(result.Messages))
	}
	counts := map[string]int{}
	for i, m := range result.Messages {
		counts[m.ID]++
		if want := fmt.Sprintf("%d", i+1); m.ID != want {
			t.Errorf("position %d holds %q, want %q", i, m.ID, want)
		}
	}
	for id, n := range counts {
		if n != 1 {
			t.Errorf("message %s appears %d times", id, n)
		}
	}
	if result.Resumed != 4 {
		t.Errorf("resumed = %d, want 4", result.Resumed)
	}
	if result.RunID != cp.RunID {
		t.Errorf("run id changed across resume: %q != %q", result.RunID, cp.RunID)
	}
}

func TestCoordinator_ResumeFullyProcessed(t *testing.T) {
	store := newTestStore(t)
	msgs := testMessages(3)

	cp, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	cp.RedactedMessages = append([]model.Message(nil), msgs...)
	cp.ProcessedCount = 3
	if err := store.Save(cp); err != nil {
		t.Fatal(err)
	}

	proc := &recordingProcessor{}
	c, err := New(store, proc, Options{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	drainStats(c)

	result, err := c.Run(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(proc.seen()) != 0 {
		t.Errorf("fully processed run re-invoked the processor: %v", proc.seen())
	}
	if len(result.Messages) != 3 || result.Resumed != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestCoordinator_ConcurrentCheckpointAlwaysValidJSON(t *testing.T) {
	dir := t.TempDir()
	store, err := checkpoint.NewStore(dir, true)
	if err != nil {
		t.Fatal(err)
	}

	// Every batch re-reads the checkpoint file while other workers are
	// committing. The atomic write must never expose partial JSON.
	proc := &recordingProcessor{delay: true}
	proc.onBatch = func() {
		data, err := os.ReadFile(store.Path())
		if os.IsNotExist(err) {
			return
		}
		if err != nil {
			t.Errorf("read checkpoint: %v", err)
			return
		}
		if !json.Valid(data) {
			t.Errorf("checkpoint contains invalid JSON: %q", data)
		}
	}

	c, err := New(store, proc, Options{BatchSize: 1, Concurrency: 4}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	drainStats(c)

	msgs := testMessages(24)
	result, err := c.Run(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Messages) != 24 {
		t.Fatalf("expected 24 messages, got %d", len(result.Messages))
	}
	for i, m := range result.Messages {
		if want := fmt.Sprintf("%d", i+1); m.ID != want {
			t.Errorf("position %d holds %q, want %q", i, m.ID, want)
		}
	}
}

func TestCoordinator_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	proc := &recordingProcessor{}

	c, err := New(store, proc, Options{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	drainStats(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Run(ctx, testMessages(5)); err == nil {
		t.Error("expected error from cancelled context")
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s, want %s", c.State(), StateFailed)
	}
}

func TestCoordinator_EmitsEvents(t *testing.T) {
	store := newTestStore(t)
	proc := &recordingProcessor{}

	c, err := New(store, proc, Options{BatchSize: 2, Concurrency: 1}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var mu sync.Mutex
	counts := map[stats.EventType]int{}
	c.SubscribeStats("counter", func(ctx context.Context, events <-chan stats.Event) error {
		for evt := range events {
			mu.Lock()
			counts[evt.Type]++
			mu.Unlock()
		}
		return nil
	})

	if _, err := c.Run(context.Background(), testMessages(4)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts[stats.EventTypeProcessed] != 4 {
		t.Errorf("processed events = %d, want 4", counts[stats.EventTypeProcessed])
	}
	if counts[stats.EventTypeBatchDone] != 2 {
		t.Errorf("batch done events = %d, want 2", counts[stats.EventTypeBatchDone])
	}
}

func TestCoordinator_FailureEmitsErrorEvent(t *testing.T) {
	store := newTestStore(t)
	proc := &recordingProcessor{}

	c, err := New(store, proc, Options{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var mu sync.Mutex
	var errs []error
	c.SubscribeStats("errors", func(ctx context.Context, events <-chan stats.Event) error {
		for evt := range events {
			if evt.Type == stats.EventTypeError {
				mu.Lock()
				errs = append(errs, evt.Err)
				mu.Unlock()
			}
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Run(ctx, testMessages(3)); err == nil {
		t.Fatal("expected error from cancelled context")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || errs[0] == nil {
		t.Fatalf("error events = %v, want exactly one carrying the cause", errs)
	}
}

func TestNew_Validation(t *testing.T) {
	store := newTestStore(t)

	if _, err := New(nil, &recordingProcessor{}, Options{}, nil); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(store, nil, Options{}, nil); err == nil {
		t.Error("expected error for nil processor")
	}
}

func TestChunk(t *testing.T) {
	batches := chunk(testMessages(7), 3)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	sizes := []int{3, 3, 1}
	for i, b := range batches {
		if len(b) != sizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, len(b), sizes[i])
		}
	}
	if len(chunk(nil, 3)) != 0 {
		t.Error("expected no batches for empty input")
	}
}
