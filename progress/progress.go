package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/maildigest/inbox-digest/stats"
)

// Bar manages a progress bar tracking per-message outcomes. The total
// is unknown until the search completes, so the bar starts on the first
// found event.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar if logLevel is "info".
func New(logLevel string) *Bar {
	return &Bar{enabled: logLevel == "info"}
}

// Update advances the bar based on the event type. Every message ends
// in exactly one terminal outcome, so the bar completes when all found
// messages are accounted for.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeFound:
		if evt.Count > 0 && b.pb == nil {
			pb, _ := pterm.DefaultProgressbar.
				WithTotal(evt.Count).
				WithTitle("Summarizing messages").
				Start()
			b.pb = pb
			b.total = evt.Count
		}
		if evt.Count == 0 {
			pterm.Info.Println("No messages in the search window")
		}
	case stats.EventTypeFiltered,
		stats.EventTypeDuplicate,
		stats.EventTypeSummarized,
		stats.EventTypeDryRunSummarized:
		if b.pb != nil {
			b.pb.Increment()
		}
	case stats.EventTypeFetchError, stats.EventTypeServiceError:
		if evt.Err != nil {
			pterm.Error.Printf("Message %d: %v\n", evt.UID, evt.Err)
		}
		if b.pb != nil {
			b.pb.Increment()
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	b.pb.Stop()
}

// Subscriber consumes stats events and updates the progress bar until
// the event stream closes.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
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

// Reporter pairs the progress bar with a pterm summary printed after
// the run completes.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

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
	if ctx.Err() != nil {
		return ctx.Err()
	}

	summary := r.collector.Snapshot()
	duration := time.Since(r.started)

	pterm.Println()
	pterm.DefaultSection.Println("Run Report")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Messages found: %d\n", summary.Found)
	pterm.Info.Printf("Summarized: %d\n", summary.Summarized)
	if summary.DryRunSummarized > 0 {
		pterm.Info.Printf("Dry-run summarized: %d\n", summary.DryRunSummarized)
	}
	if summary.Filtered > 0 {
		pterm.Info.Printf("Filtered out: %d\n", summary.Filtered)
	}
	if summary.Duplicates > 0 {
		pterm.Info.Printf("Duplicates skipped: %d\n", summary.Duplicates)
	}
	if summary.DecodeWarnings > 0 {
		pterm.Warning.Printf("Decode warnings: %d\n", summary.DecodeWarnings)
	}
	if summary.FetchErrors > 0 {
		pterm.Warning.Printf("Fetch failures: %d\n", summary.FetchErrors)
	}
	if summary.ServiceErrors > 0 {
		pterm.Warning.Printf("Summarization failures: %d\n", summary.ServiceErrors)
	}
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}
