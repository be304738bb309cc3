package stats

import (
	"context"
	"errors"
	"testing"
)

func TestCollectorAggregatesEvents(t *testing.T) {
	c := NewCollector()
	events := make(chan Event, 16)

	fetchErr := errors.New("gone")
	for _, evt := range []Event{
		{Stage: StageIMAP, Type: EventTypeFound, Count: 5},
		{Stage: StageIMAP, Type: EventTypeFetched, UID: 1},
		{Stage: StageIMAP, Type: EventTypeFetched, UID: 2},
		{Stage: StageIMAP, Type: EventTypeFetchError, UID: 3, Err: fetchErr},
		{Stage: StageParse, Type: EventTypeNormalized, UID: 1},
		{Stage: StageParse, Type: EventTypeDecodeWarning, UID: 2, Field: "date"},
		{Stage: StageParse, Type: EventTypeNormalized, UID: 2},
		{Stage: StageSummarize, Type: EventTypeSummarized, UID: 1},
		{Stage: StageSummarize, Type: EventTypeServiceError, UID: 2, Err: errors.New("overloaded")},
	} {
		events <- evt
	}
	close(events)

	c.Run(context.Background(), events)

	s := c.Snapshot()
	if s.Found != 5 {
		t.Errorf("Found = %d, want 5", s.Found)
	}
	if s.Fetched != 2 {
		t.Errorf("Fetched = %d, want 2", s.Fetched)
	}
	if s.FetchErrors != 1 {
		t.Errorf("FetchErrors = %d, want 1", s.FetchErrors)
	}
	if s.Normalized != 2 {
		t.Errorf("Normalized = %d, want 2", s.Normalized)
	}
	if s.DecodeWarnings != 1 {
		t.Errorf("DecodeWarnings = %d, want 1", s.DecodeWarnings)
	}
	if s.Summarized != 1 {
		t.Errorf("Summarized = %d, want 1", s.Summarized)
	}
	if s.ServiceErrors != 1 {
		t.Errorf("ServiceErrors = %d, want 1", s.ServiceErrors)
	}
	if s.LastError == nil || s.LastError.Error() != "overloaded" {
		t.Errorf("LastError = %v, want the most recent error", s.LastError)
	}
}

func TestCollectorStopsOnContextCancel(t *testing.T) {
	c := NewCollector()
	events := make(chan Event)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Returns promptly even though the channel never closes.
	c.Run(ctx, events)

	if s := c.Snapshot(); s.Found != 0 {
		t.Errorf("Snapshot() = %+v, want zero summary", s)
	}
}

func TestSummaryLogAttrs(t *testing.T) {
	s := Summary{Found: 3, LastError: errors.New("boom")}

	attrs := s.LogAttrs()
	if len(attrs)%2 != 0 {
		t.Fatalf("LogAttrs() length %d is not key/value paired", len(attrs))
	}

	got := map[string]any{}
	for i := 0; i < len(attrs); i += 2 {
		got[attrs[i].(string)] = attrs[i+1]
	}
	if got["found"] != 3 {
		t.Errorf("found attr = %v, want 3", got["found"])
	}
	if got["lastError"] != "boom" {
		t.Errorf("lastError attr = %v, want boom", got["lastError"])
	}
}
