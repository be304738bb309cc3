// Package imap opens the authenticated mail session and produces raw
// messages for the pipeline: dial, login, select, search the time
// window, then fetch each matched identifier.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/maildigest/inbox-digest/model"
	"github.com/maildigest/inbox-digest/runner"
	"github.com/maildigest/inbox-digest/stats"
)

// ConnectError is a fatal failure to reach or converse with the server.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("imap connection to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// AuthError is a fatal login failure; no session can be established.
type AuthError struct {
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap authentication failed for %s: %v", e.User, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// FetchError is a per-message failure; the rest of the batch continues.
type FetchError struct {
	UID uint32
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch message %d: %v", e.UID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Mailbox            string
	UseTLS             bool
	InsecureSkipVerify bool
	Window             time.Duration
}

// Producer is the pipeline stage that feeds raw messages from the
// mailbox into the runner.
type Producer struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Mailbox == "" {
		return nil, fmt.Errorf("mailbox is empty")
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("search window must be positive")
	}

	producer := &Producer{
		opts:   opts,
		runner: r,
		logger: logger,
	}
	r.AddStage("imap", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseRaw()

	client, cleanup, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := client.Select(p.opts.Mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("select mailbox %s: %w", p.opts.Mailbox, err)
	}

	criteria := searchCriteria(time.Now(), p.opts.Window)
	since := criteria.Since
	uids, err := p.search(client, criteria)
	if err != nil {
		return err
	}

	p.runner.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeFound, Count: len(uids)})
	if p.logger != nil {
		p.logger.Info("mailbox searched", "mailbox", p.opts.Mailbox, "since", since, "messages", len(uids))
	}

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := p.fetchOne(client, uid)
		envelope := model.Envelope{Raw: model.RawMessage{UID: uint32(uid)}}
		if err != nil {
			envelope.Err = &FetchError{UID: uint32(uid), Err: err}
		} else {
			envelope.Raw.Raw = raw
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.runner.RawWriter() <- envelope:
		}
	}

	return nil
}

// searchCriteria bounds the search to messages received within the
// window ending at now.
func searchCriteria(now time.Time, window time.Duration) *imapv2.SearchCriteria {
	return &imapv2.SearchCriteria{Since: now.Add(-window)}
}

// search returns the identifiers of messages matching the criteria, in
// whatever order the server provides.
func (p *Producer) search(client *imapclient.Client, criteria *imapv2.SearchCriteria) ([]imapv2.UID, error) {
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search since %s: %w", criteria.Since.Format(time.RFC3339), err)
	}
	return searchData.AllUIDs(), nil
}

// fetchOne retrieves the full raw representation of a single message.
// Each identifier gets its own fetch command so one stale or deleted
// message cannot poison the rest of the batch.
func (p *Producer) fetchOne(client *imapclient.Client, uid imapv2.UID) ([]byte, error) {
	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imapv2.UIDSetNum(uid), fetchOpts)

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message no longer exists")
	}

	buf, err := msg.Collect()
	if err != nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("collect message data: %w", err)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("close fetch: %w", err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("server returned no body section")
	}

	return raw, nil
}

func (p *Producer) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(p.opts.Host, strconv.Itoa(p.opts.Port))
	options := &imapclient.Options{}

	if p.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         p.opts.Host,
			InsecureSkipVerify: p.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if p.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, &ConnectError{Addr: address, Err: err}
	}

	if err := client.Login(p.opts.Username, p.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, &AuthError{User: p.opts.Username, Err: err}
	}

	if p.logger != nil {
		p.logger.Debug("imap connection established", "address", address, "user", p.opts.Username, "mailbox", p.opts.Mailbox, "tls", p.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	// The session is released exactly once on every exit path.
	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if p.logger != nil {
					p.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && p.logger != nil {
			p.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}
