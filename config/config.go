package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to run the digest.
type Config struct {
	CredentialsPath    string
	IMAPHost           string
	IMAPPort           int
	Mailbox            string
	WindowHours        int
	UseTLS             bool
	InsecureSkipVerify bool
	DryRun             bool
	OutputDir          string
	LogLevel           string
	LogDir             string
	APIKey             string
	Model              string
	MaxTokens          int
	IncludeHeader      []string
	IncludeBody        []string
	ExcludeHeader      []string
	ExcludeBody        []string
}

// Window returns the search window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("credentials", "credentials.yaml", "Path to the YAML file with the mailbox user and password")
	flags.String("imap-host", "imap.gmail.com", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("mailbox", "INBOX", "Mailbox to search")
	flags.Int("window-hours", 24, "Fetch messages received within the last N hours")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.Bool("dry-run", false, "Fetch and normalize messages but skip the summarization API")
	flags.String("output-dir", ".", "Directory for the per-run digest text file")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (logs to stdout only when empty)")
	flags.String("api-key", "", "Summarization API key (falls back to OPENAI_API_KEY env var)")
	flags.String("model", "gpt-3.5-turbo", "Completion model used for summaries")
	flags.Int("max-tokens", 1024, "Maximum completion tokens per summary request")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	credentialsPath, err := flags.GetString("credentials")
	if err != nil {
		return Config{}, err
	}
	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Config{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Config{}, err
	}
	mailbox, err := flags.GetString("mailbox")
	if err != nil {
		return Config{}, err
	}
	windowHours, err := flags.GetInt("window-hours")
	if err != nil {
		return Config{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	outputDir, err := flags.GetString("output-dir")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	apiKey, err := flags.GetString("api-key")
	if err != nil {
		return Config{}, err
	}
	modelName, err := flags.GetString("model")
	if err != nil {
		return Config{}, err
	}
	maxTokens, err := flags.GetInt("max-tokens")
	if err != nil {
		return Config{}, err
	}
	includeHeader, err := flags.GetStringArray("include-header")
	if err != nil {
		return Config{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return Config{}, err
	}
	excludeHeader, err := flags.GetStringArray("exclude-header")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}

	// The key is resolved once here and passed by value into the
	// summarizer; nothing reads the environment after startup.
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		CredentialsPath:    filepath.Clean(credentialsPath),
		IMAPHost:           imapHost,
		IMAPPort:           imapPort,
		Mailbox:            mailbox,
		WindowHours:        windowHours,
		UseTLS:             useTLS,
		InsecureSkipVerify: insecureSkipVerify,
		DryRun:             dryRun,
		OutputDir:          filepath.Clean(outputDir),
		LogLevel:           logLevel,
		LogDir:             logDir,
		APIKey:             apiKey,
		Model:              modelName,
		MaxTokens:          maxTokens,
		IncludeHeader:      includeHeader,
		IncludeBody:        includeBody,
		ExcludeHeader:      excludeHeader,
		ExcludeBody:        excludeBody,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.Mailbox == "" {
		return fmt.Errorf("--mailbox is required")
	}
	if cfg.WindowHours <= 0 {
		return fmt.Errorf("--window-hours must be positive")
	}
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("--max-tokens must be positive")
	}
	if cfg.APIKey == "" && !cfg.DryRun {
		return fmt.Errorf("summarization API key must be provided via --api-key or OPENAI_API_KEY env var (or use --dry-run)")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
