package summarize

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maildigest/inbox-digest/mailparse"
	"github.com/maildigest/inbox-digest/model"
	"github.com/maildigest/inbox-digest/runner"
	"github.com/maildigest/inbox-digest/stats"
)

type ConsumerOptions struct {
	OutputDir string
	DryRun    bool
}

// Consumer is the pipeline stage that summarizes normalized messages
// and records the results in the digest file. A failed summarization is
// logged and skipped; the batch continues.
type Consumer struct {
	opts    ConsumerOptions
	client  *Client
	runner  *runner.Runner
	digest  *DigestWriter
	digests <-chan model.Message
	logger  *slog.Logger
}

func NewConsumer(client *Client, opts ConsumerOptions, r *runner.Runner, logger *slog.Logger) (*Consumer, error) {
	if client == nil && !opts.DryRun {
		return nil, errors.New("summarize client must not be nil")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}

	consumer := &Consumer{
		opts:    opts,
		client:  client,
		runner:  r,
		digest:  NewDigestWriter(opts.OutputDir),
		digests: r.Digests(),
		logger:  logger,
	}
	r.AddStage("summarize", consumer.run)
	return consumer, nil
}

// DigestPath returns the digest file location, or empty if nothing was
// written.
func (c *Consumer) DigestPath() string {
	return c.digest.Path()
}

func (c *Consumer) run(ctx context.Context) error {
	defer func() {
		if err := c.digest.Close(); err != nil && c.logger != nil {
			c.logger.Warn("digest file close failed", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.digests:
			if !ok {
				return nil
			}

			if c.opts.DryRun {
				c.runner.EmitEvent(stats.Event{Stage: stats.StageSummarize, Type: stats.EventTypeDryRunSummarized, UID: msg.UID})
				if c.logger != nil {
					c.logger.Debug("dry-run summarize", "uid", msg.UID, "subject", msg.Subject)
				}
				continue
			}

			text := mailparse.CleanText(msg.Body)

			summary, err := c.client.Summarize(ctx, text)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				c.runner.EmitEvent(stats.Event{Stage: stats.StageSummarize, Type: stats.EventTypeServiceError, UID: msg.UID, Err: err})
				if c.logger != nil {
					c.logger.Warn("summarization failed, skipping message", "uid", msg.UID, "subject", msg.Subject, "err", err)
				}
				continue
			}

			if summary == "" {
				summary = "(no text content)"
			}

			record := model.Summary{
				UID:     msg.UID,
				From:    msg.From,
				Subject: msg.Subject,
				Text:    summary,
			}
			if err := c.digest.Write(record); err != nil {
				return err
			}

			c.runner.EmitEvent(stats.Event{Stage: stats.StageSummarize, Type: stats.EventTypeSummarized, UID: msg.UID})
			if c.logger != nil {
				c.logger.Info("message summarized", "uid", msg.UID, "from", msg.From, "subject", msg.Subject)
			}
		}
	}
}
