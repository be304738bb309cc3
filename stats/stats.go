package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageIMAP      Stage = "imap"
	StageParse     Stage = "parse"
	StageSummarize Stage = "summarize"
)

type EventType string

const (
	// EventTypeFound carries the number of identifiers the search returned.
	EventTypeFound            EventType = "found"
	EventTypeFetched          EventType = "fetched"
	EventTypeFetchError       EventType = "fetch_error"
	EventTypeFiltered         EventType = "filtered"
	EventTypeDuplicate        EventType = "duplicate"
	EventTypeNormalized       EventType = "normalized"
	EventTypeDecodeWarning    EventType = "decode_warning"
	EventTypeSummarized       EventType = "summarized"
	EventTypeDryRunSummarized EventType = "dry_run_summarized"
	EventTypeServiceError     EventType = "service_error"
)

type Event struct {
	Stage Stage
	Type  EventType
	UID   uint32
	Field string
	Count int
	Err   error
}

// Summary is the aggregate outcome of one run: how many messages were
// found and how many succeeded or failed at each stage.
type Summary struct {
	Found            int
	Fetched          int
	FetchErrors      int
	Filtered         int
	Duplicates       int
	Normalized       int
	DecodeWarnings   int
	Summarized       int
	DryRunSummarized int
	ServiceErrors    int
	LastError        error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"found", s.Found,
		"fetched", s.Fetched,
		"fetchErrors", s.FetchErrors,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"normalized", s.Normalized,
		"decodeWarnings", s.DecodeWarnings,
		"summarized", s.Summarized,
		"dryRunSummarized", s.DryRunSummarized,
		"serviceErrors", s.ServiceErrors,
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
	case EventTypeFound:
		c.summary.Found += evt.Count
	case EventTypeFetched:
		c.summary.Fetched++
	case EventTypeFetchError:
		c.summary.FetchErrors++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeNormalized:
		c.summary.Normalized++
	case EventTypeDecodeWarning:
		c.summary.DecodeWarnings++
	case EventTypeSummarized:
		c.summary.Summarized++
	case EventTypeDryRunSummarized:
		c.summary.DryRunSummarized++
	case EventTypeServiceError:
		c.summary.ServiceErrors++
	}
	if evt.Err != nil {
		c.summary.LastError = evt.Err
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter aggregates events and logs the final run report once the
// event stream closes.
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
		r.logger.Info("run report", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
