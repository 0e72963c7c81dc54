package root

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flotilla-dev/flotilla/pkg/audit"
)

// NewEventsCmd queries persisted delivery records.
func NewEventsCmd() *cobra.Command {
	var auditPath string
	var filter audit.DeliveryFilter
	var since, until string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query delivery records from the audit database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if since != "" {
				filter.Since, err = time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since value: %w", err)
				}
			}
			if until != "" {
				filter.Until, err = time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("invalid --until value: %w", err)
				}
			}

			store, err := audit.Open(auditPath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.QueryDeliveries(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching delivery records")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSOURCE\tTARGET\tSTATUS\tRUN ID")
			for _, record := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					record.Time.Format(time.RFC3339),
					record.Source,
					record.Target,
					record.Status,
					record.RunID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&auditPath, "audit-db", defaultAuditPath, "Audit database path")
	cmd.Flags().StringVar(&filter.Source, "source", "", "Filter by source service")
	cmd.Flags().StringVar(&filter.Target, "target", "", "Filter by target service")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Filter by delivery status")
	cmd.Flags().StringVar(&filter.RunID, "run-id", "", "Filter by run id")
	cmd.Flags().StringVar(&since, "since", "", "Only records at or after this RFC3339 time")
	cmd.Flags().StringVar(&until, "until", "", "Only records at or before this RFC3339 time")

	return cmd
}
