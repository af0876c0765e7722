package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/dsar-redact/stats"
)

// Bar manages a progress bar for tracking message redaction.
type Bar struct {
	pb        *pterm.ProgressbarPrinter
	total     int
	processed int
	started   time.Time
	mu        sync.Mutex
	enabled   bool
}

// New creates a new progress bar if logLevel is "info".
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{
		total:   total,
		started: time.Now(),
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Redacting messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Total messages: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Update advances the bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeResumed:
		// Fast-forward past messages a previous run already completed.
		b.processed += evt.Count
		b.pb.Add(evt.Count)
	case stats.EventTypeProcessed:
		b.processed++
		b.pb.Increment()
		b.pb.UpdateTitle(b.rateTitle())
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// rateTitle renders processed/total with rate and ETA.
func (b *Bar) rateTitle() string {
	elapsed := time.Since(b.started).Seconds()
	if elapsed <= 0 || b.processed == 0 {
		return "Redacting messages"
	}
	rate := float64(b.processed) / elapsed
	remaining := b.total - b.processed
	eta := time.Duration(float64(remaining)/rate) * time.Second
	return fmt.Sprintf("Redacting %d/%d (%.1f msg/s, ETA %s)", b.processed, b.total, rate, eta.Round(time.Second))
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	b.pb.Stop()
	pterm.Success.Println("Redaction complete!")
}

// Subscriber creates a stats subscriber function that updates the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter wraps a stats collector with progress bar output.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewReporter subscribes the bar and a summary collector to the stream.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (r *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	r.collector.Run(ctx, events)

	summary := r.collector.Snapshot()
	duration := time.Since(r.started)

	pterm.Println()
	pterm.DefaultSection.Println("Redaction Summary")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Processed: %d\n", summary.Processed)
	pterm.Info.Printf("Resumed from checkpoint: %d\n", summary.Resumed)
	pterm.Info.Printf("Redactions applied: %d\n", summary.Redactions)
	pterm.Info.Printf("Batches committed: %d\n", summary.Batches)
	pterm.Info.Printf("Filtered out: %d\n", summary.Filtered)
	pterm.Info.Printf("Duplicates skipped: %d\n", summary.Duplicates)
	pterm.Info.Printf("AI stage degradations: %d\n", summary.AIDegraded)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}
