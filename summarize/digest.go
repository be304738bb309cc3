package summarize

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maildigest/inbox-digest/model"
)

// DigestWriter appends summary records to a per-run text file named
// after the run's start time. The file is created lazily on the first
// write, so a run that summarizes nothing leaves no file behind.
type DigestWriter struct {
	dir  string
	path string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

func NewDigestWriter(dir string) *DigestWriter {
	return &DigestWriter{dir: dir}
}

// Path returns the digest file location, or empty if nothing was written.
func (d *DigestWriter) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *DigestWriter) Write(summary model.Summary) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		if err := d.open(); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(d.writer, "From: %s\nSubject: %s\nSummary:\n%s\n\n", summary.From, summary.Subject, summary.Text)
	if err != nil {
		return fmt.Errorf("write digest record: %w", err)
	}
	return nil
}

func (d *DigestWriter) open() error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(d.dir, fmt.Sprintf("email_summaries_%s.txt", time.Now().Format("20060102T150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open digest file: %w", err)
	}

	d.path = path
	d.file = file
	d.writer = bufio.NewWriterSize(file, 64*1024)
	return nil
}

// Close flushes and closes the digest file.
func (d *DigestWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}

	var firstErr error
	if err := d.writer.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush digest file: %w", err)
	}
	if err := d.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync digest file: %w", err)
	}
	if err := d.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close digest file: %w", err)
	}

	d.file = nil
	d.writer = nil
	return firstErr
}
