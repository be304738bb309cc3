package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/maildigest/inbox-digest/mailparse"
	"github.com/maildigest/inbox-digest/model"
	"github.com/maildigest/inbox-digest/summarize"
)

// NewEmlDigestCmd summarizes local message files without touching a
// mailbox: individual .eml files passed as arguments, or a whole mbox
// archive via --mbox.
func NewEmlDigestCmd() *cobra.Command {
	var (
		mboxPath  string
		outputDir string
		apiKey    string
		modelName string
		maxTokens int
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "eml-digest [eml files...]",
		Short: "Summarize local .eml files or an mbox archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mboxPath == "" && len(args) == 0 {
				return fmt.Errorf("provide .eml files as arguments or an archive via --mbox")
			}

			if apiKey == "" {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			if apiKey == "" && !dryRun {
				return fmt.Errorf("summarization API key must be provided via --api-key or OPENAI_API_KEY env var (or use --dry-run)")
			}

			client := summarize.NewClient(summarize.Options{
				APIKey:    apiKey,
				Model:     modelName,
				MaxTokens: maxTokens,
			})

			digest := summarize.NewDigestWriter(outputDir)
			defer func() {
				if err := digest.Close(); err != nil {
					pterm.Warning.Printf("Closing digest file: %v\n", err)
				}
			}()

			summarized := 0
			parsedOnly := 0
			failed := 0

			process := func(name string, raw []byte) {
				msg, warns := mailparse.Normalize(raw)
				for _, w := range warns {
					pterm.Warning.Printf("%s: %s: %v\n", name, w.Field, w.Err)
				}

				if dryRun {
					pterm.Info.Printf("Would summarize %s (%s)\n", name, msg.Subject)
					parsedOnly++
					return
				}

				text := mailparse.CleanText(msg.Body)
				summary, err := client.Summarize(cmd.Context(), text)
				if err != nil {
					pterm.Error.Printf("%s: %v\n", name, err)
					failed++
					return
				}
				if summary == "" {
					summary = "(no text content)"
				}

				record := model.Summary{From: msg.From, Subject: msg.Subject, Text: summary}
				if err := digest.Write(record); err != nil {
					pterm.Error.Printf("%s: %v\n", name, err)
					failed++
					return
				}

				pterm.Println()
				pterm.DefaultSection.Println(msg.Subject)
				pterm.Info.Printf("From: %s\n", msg.From)
				pterm.Println(summary)
				summarized++
			}

			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					pterm.Error.Printf("%s: %v\n", path, err)
					failed++
					continue
				}
				process(path, raw)
			}

			if mboxPath != "" {
				if err := readMbox(mboxPath, process); err != nil {
					return fmt.Errorf("read mbox %s: %w", mboxPath, err)
				}
			}

			pterm.Println()
			if dryRun {
				pterm.Info.Printf("Would summarize %d message(s), %d failed\n", parsedOnly, failed)
			} else {
				pterm.Info.Printf("Summarized %d message(s), %d failed\n", summarized, failed)
			}
			if path := digest.Path(); path != "" {
				pterm.Info.Printf("Digest written to %s\n", path)
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mboxPath, "mbox", "", "Path to an .mbox archive to summarize")
	flags.StringVarP(&outputDir, "output-dir", "o", ".", "Directory for the digest text file")
	flags.StringVar(&apiKey, "api-key", "", "Summarization API key (falls back to OPENAI_API_KEY env var)")
	flags.StringVar(&modelName, "model", "gpt-3.5-turbo", "Completion model used for summaries")
	flags.IntVar(&maxTokens, "max-tokens", 1024, "Maximum completion tokens per summary request")
	flags.BoolVar(&dryRun, "dry-run", false, "Parse messages but skip the summarization API")

	return cmd
}

// readMbox iterates the archive, handing each message's raw bytes to
// the callback. Unreadable messages are reported and skipped.
func readMbox(path string, process func(name string, raw []byte)) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			pterm.Error.Printf("message %d: %v\n", idx, err)
			continue
		}

		process(fmt.Sprintf("%s#%d", path, idx), raw)
	}
}
