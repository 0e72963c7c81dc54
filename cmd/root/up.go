package root

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flotilla-dev/flotilla/pkg/agent"
	"github.com/flotilla-dev/flotilla/pkg/audit"
	"github.com/flotilla-dev/flotilla/pkg/compose"
	"github.com/flotilla-dev/flotilla/pkg/service"
	"github.com/flotilla-dev/flotilla/pkg/sink"
	"github.com/flotilla-dev/flotilla/pkg/supervisor"
	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

const defaultAuditPath = "flotilla.db"

// NewUpCmd starts the compose and blocks until shutdown.
func NewUpCmd() *cobra.Command {
	var composePath string
	var auditPath string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start all services and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := compose.Load(composePath)
			if err != nil {
				return err
			}

			if auditPath == "" {
				auditPath = cfg.Shared.AuditPath
			}
			if auditPath == "" {
				auditPath = defaultAuditPath
			}

			coordinator := audit.NewCoordinator()
			defer coordinator.CloseAll()

			store, err := coordinator.Open(auditPath)
			if err != nil {
				return err
			}

			sup, err := buildSupervisor(cfg, store)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Starting compose with %d service(s)\n", len(cfg.Services))
			return sup.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&composePath, "file", "f", "flotilla.yaml", "Compose file")
	cmd.Flags().StringVar(&auditPath, "audit-db", "", "Audit database path (overrides shared.audit_path)")

	return cmd
}

// buildSupervisor wires the runtime together: one dispatcher, agent and
// runner per service, a shared sink router, and the supervisor on top.
func buildSupervisor(cfg *compose.Config, store *audit.Store) (*supervisor.Supervisor, error) {
	set := supervisor.NewSet()

	router, err := sink.NewRouter(cfg, sink.NewRegistry(), set, store)
	if err != nil {
		return nil, err
	}

	registry := trigger.NewRegistry()
	services := make(map[string]supervisor.Service, len(cfg.Services))
	for name, svc := range cfg.Services {
		role, err := agent.LoadRole(svc.Role)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}

		dispatcher, err := trigger.NewDispatcher(registry, name, svc.Triggers)
		if err != nil {
			return nil, err
		}

		runner := service.NewRunner(svc, agent.NewRunner(role), dispatcher, router, store)
		set.Register(name, runner)
		services[name] = runner
	}

	return supervisor.New(cfg, services)
}
