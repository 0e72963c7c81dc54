package root

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var debugMode bool

// NewRootCmd builds the flotilla command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "flotilla",
		Short:         "Wire agent services into a running pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if debugMode {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(NewUpCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewEventsCmd())

	return cmd
}
