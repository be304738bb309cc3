package runner

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maildigest/inbox-digest/config"
	"github.com/maildigest/inbox-digest/filter"
	"github.com/maildigest/inbox-digest/mailparse"
	"github.com/maildigest/inbox-digest/model"
	"github.com/maildigest/inbox-digest/state"
	"github.com/maildigest/inbox-digest/stats"
)

type StageFunc func(context.Context) error

// Runner wires the pipeline stages together: the imap producer writes
// raw envelopes, the bridge filters and normalizes them, and the
// summarize consumer reads normalized messages. A stats event stream is
// fanned out to every subscriber. Only fatal errors (configuration,
// authentication, connection) abort the run; per-message failures are
// reported as events and processing continues.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	raw     chan model.Envelope
	digests chan model.Message
	events  chan stats.Event

	filter *filter.Filter
	seen   *state.SeenSet

	subsMu sync.Mutex
	subs   []chan stats.Event

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeRawOnce     sync.Once
	closeDigestsOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("message filter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		raw:     make(chan model.Envelope, 32),
		digests: make(chan model.Message, 32),
		events:  make(chan stats.Event, 128),
		filter:  f,
		seen:    state.NewSeenSet(),
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) RawWriter() chan<- model.Envelope {
	return r.raw
}

func (r *Runner) CloseRaw() {
	r.closeRawOnce.Do(func() {
		close(r.raw)
	})
}

func (r *Runner) Digests() <-chan model.Message {
	return r.digests
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats registers an event consumer. Every subscriber receives
// every event; subscriptions must happen before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)

	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	dispatchDone := make(chan struct{})
	go r.dispatch(dispatchDone)

	r.workWG.Wait()
	r.closeEvents()
	<-dispatchDone
	r.statsWG.Wait()

	r.cancel()

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

// dispatch fans every event out to all subscribers and closes their
// channels once the event stream ends.
func (r *Runner) dispatch(done chan<- struct{}) {
	defer close(done)

	r.subsMu.Lock()
	subs := r.subs
	r.subsMu.Unlock()

	defer func() {
		for _, ch := range subs {
			close(ch)
		}
	}()

	for evt := range r.events {
		for _, ch := range subs {
			select {
			case <-r.ctx.Done():
				return
			case ch <- evt:
			}
		}
	}
}

// bridge sits between the fetch and summarize stages: it reports fetch
// failures, applies the regex filter, drops in-run duplicates and
// normalizes the survivors.
func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeDigests()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.raw:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				// Per-message failure: the batch degrades, the run
				// continues.
				r.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeFetchError, UID: envelope.Raw.UID, Err: envelope.Err})
				r.logger.Warn("fetch failed, skipping message", "uid", envelope.Raw.UID, "err", envelope.Err)
				continue
			}

			raw := envelope.Raw
			r.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeFetched, UID: raw.UID})

			if !r.filter.Allows(raw.Raw) {
				r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeFiltered, UID: raw.UID})
				continue
			}

			msg, warns := mailparse.Normalize(raw.Raw)
			msg.UID = raw.UID

			for _, w := range warns {
				r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeDecodeWarning, UID: raw.UID, Field: w.Field, Err: w.Err})
				r.logger.Warn("decode warning", "uid", raw.UID, "field", w.Field, "err", w.Err)
			}

			key := dedupeKey(msg, raw.Raw)
			if r.seen.Seen(key) {
				r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeDuplicate, UID: raw.UID})
				continue
			}
			r.seen.Mark(key)

			r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeNormalized, UID: raw.UID})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.digests <- msg:
			}
		}
	}
}

// dedupeKey identifies a message within the run: the Message-ID when
// present, otherwise a hash of the raw bytes.
func dedupeKey(msg model.Message, raw []byte) string {
	if msg.MessageID != "" {
		return msg.MessageID
	}
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (r *Runner) closeDigests() {
	r.closeDigestsOnce.Do(func() {
		close(r.digests)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
