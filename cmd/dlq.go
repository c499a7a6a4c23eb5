package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/gradersync/internal/config"
	"github.com/telhawk-systems/gradersync/internal/dlq"
	"github.com/telhawk-systems/gradersync/internal/logging"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Rejected record commands",
	Long:  "Inspect and purge attempts rejected during normalization",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rejected records",
	Example: `  gradersync dlq list --limit 20
  gradersync dlq list --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("output")

		q, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer q.Close()

		entries, err := q.List(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list dlq: %w", err)
		}

		out := cmd.OutOrStdout()
		if format == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tREASON\tUSER_ID\tRUN_ID\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Format(time.RFC3339), e.Reason, e.UserID, e.RunID, e.Error)
		}
		return w.Flush()
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all rejected records",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer q.Close()

		n, err := q.Purge(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to purge dlq: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d rejected records\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd, dlqPurgeCmd)

	dlqListCmd.Flags().Int("limit", 0, "maximum number of records (0 = all)")
	dlqListCmd.Flags().String("output", "table", "output format: table, json")
}

func openQueue(cmd *cobra.Command) (dlq.Queue, error) {
	c, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	if !c.DLQ.Enabled {
		return nil, dlq.ErrDisabled
	}

	logger := logging.New(logging.ParseLevel(c.Logging.Level), c.Logging.Format, cmd.ErrOrStderr())
	return newQueue(cmd, c.DLQ, logger)
}

func newQueue(cmd *cobra.Command, dc config.DLQConfig, logger *logging.Logger) (dlq.Queue, error) {
	if dc.Backend == dlq.BackendJetStream {
		return dlq.NewJetStreamQueue(cmd.Context(), dc.NatsURL, logger)
	}
	return dlq.NewFileQueue(dc.BasePath, logger)
}
