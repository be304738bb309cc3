package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/maildigest/inbox-digest/cmd"
	"github.com/maildigest/inbox-digest/config"
	imapx "github.com/maildigest/inbox-digest/imap"
	"github.com/maildigest/inbox-digest/progress"
	"github.com/maildigest/inbox-digest/runner"
	"github.com/maildigest/inbox-digest/stats"
	"github.com/maildigest/inbox-digest/summarize"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inbox-digest",
		Short: "Fetch recent mail from an IMAP mailbox and summarize it with an LLM",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting inbox-digest", "host", cfg.IMAPHost, "mailbox", cfg.Mailbox, "windowHours", cfg.WindowHours, "dryRun", cfg.DryRun)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(cmd.NewEmlDigestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	// Credentials load before any network activity; a bad file is fatal.
	creds, err := config.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		return err
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	stats.NewReporter(r, logger)
	bar := progress.New(cfg.LogLevel)
	progress.NewReporter(r, bar, logger)

	producerOpts := imapx.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           creds.User,
		Password:           creds.Password,
		Mailbox:            cfg.Mailbox,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Window:             cfg.Window(),
	}

	if _, err := imapx.NewProducer(producerOpts, r, logger); err != nil {
		return fmt.Errorf("imap.NewProducer: %w", err)
	}

	client := summarize.NewClient(summarize.Options{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})

	consumer, err := summarize.NewConsumer(client, summarize.ConsumerOptions{
		OutputDir: cfg.OutputDir,
		DryRun:    cfg.DryRun,
	}, r, logger)
	if err != nil {
		return fmt.Errorf("summarize.NewConsumer: %w", err)
	}

	if err := r.Start(); err != nil {
		return err
	}

	if path := consumer.DigestPath(); path != "" {
		logger.Info("digest written", "path", path)
	}

	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("inbox-digest-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
