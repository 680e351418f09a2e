package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/receipt-reconciler/internal/adapters/bankcsv"
	"github.com/eshaffer321/receipt-reconciler/internal/adapters/feed"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
)

func newImportCommand(flags *GlobalFlags) *cobra.Command {
	var (
		account string
		format  string
		publish bool
		match   bool
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import bank records from a CSV export or JSON feed file",
		Long: `Import bank records for one account.

CSV files need a header with date, description and amount columns;
external_id and account_id are optional. JSON files hold either an array
of records or a feed batch object with account_id and records.

Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if format == "" {
				format = detectFormat(args[0], data)
			}

			msg, err := decodeImport(format, data, account)
			if err != nil {
				return err
			}
			if msg.AccountID == "" {
				return fmt.Errorf("--account is required")
			}

			if publish {
				return publishBatch(cmd.Context(), flags, msg)
			}

			a, err := openApp(cmd.Context(), flags, "import")
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.svc.IngestBankRecords(cmd.Context(), msg.AccountID, msg.Records)
			if err != nil {
				return err
			}
			PrintIngestSummary(cmd.OutOrStdout(), summary)

			if !match || len(summary.Created) == 0 {
				return nil
			}
			result, err := a.svc.TriggerPass(cmd.Context(), msg.AccountID)
			if err != nil {
				return err
			}
			PrintPassResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account the records belong to")
	cmd.Flags().StringVar(&format, "format", "", "Input format: csv or json (default: from extension)")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish to the bank feed queue instead of ingesting directly")
	cmd.Flags().BoolVar(&match, "match", false, "Run a matching pass after importing")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func detectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return "json"
	}
	return "csv"
}

// decodeImport turns file contents into one feed batch. A non-empty
// account overrides the batch's own account id.
func decodeImport(format string, data []byte, account string) (*feed.BankFeedMessage, error) {
	var records []normalizer.BankRecord
	batchAccount := ""

	switch format {
	case "csv":
		parsed, err := bankcsv.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		records = parsed
	case "json":
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			var batch feed.BankFeedMessage
			if err := json.Unmarshal(trimmed, &batch); err != nil {
				return nil, fmt.Errorf("decode feed batch: %w", err)
			}
			records, batchAccount = batch.Records, batch.AccountID
		} else if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q (want csv or json)", format)
	}

	if account == "" {
		account = batchAccount
	}
	return feed.NewBankFeedMessage(account, records), nil
}

func publishBatch(ctx context.Context, flags *GlobalFlags, msg *feed.BankFeedMessage) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	client, err := feed.NewClient(cfg.Feed, nil)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Publish(ctx, msg)
}
