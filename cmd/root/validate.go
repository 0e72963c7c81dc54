package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// NewValidateCmd checks the compose file's service graph without
// starting anything. The first structural violation is printed and the
// command exits non-zero, with no side effects.
func NewValidateCmd() *cobra.Command {
	var composePath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the compose file and service graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := compose.Load(composePath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Compose file is valid: %d service(s)\n", len(cfg.Services))
			for _, name := range cfg.TopoOrder() {
				svc := cfg.Services[name]
				fmt.Fprintf(cmd.OutOrStdout(), "  %s (triggers: %d, depends_on: %v)\n",
					name, len(svc.Triggers), svc.DependsOn)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&composePath, "file", "f", "flotilla.yaml", "Compose file")

	return cmd
}
