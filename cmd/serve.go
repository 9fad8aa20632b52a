package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/internal/api"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/observability"
	"github.com/irun2themoney/autoppia-miner/internal/service"
)

type serveFlags struct {
	port      int
	agentType string
}

func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the miner HTTP API",
		Long: `Starts the HTTP API that answers /solve_task, /feedback, /health and the
metrics endpoints. The server shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, factory, flags)
		},
	}
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "Port to listen on (overrides config and PORT)")
	cmd.Flags().StringVar(&flags.agentType, "agent-type", "", "Agent type: template, chutes or hybrid")
	return cmd
}

func serve(cmd *cobra.Command, factory service.ComponentFactory, flags serveFlags) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	if flags.port > 0 {
		cfg.SetServerPort(flags.port)
	}
	if flags.agentType != "" {
		switch flags.agentType {
		case config.AgentTemplate, config.AgentChutes, config.AgentHybrid:
			cfg.SetAgentType(flags.agentType)
		default:
			return fmt.Errorf("unknown agent type %q", flags.agentType)
		}
	}
	return runServe(cmd.Context(), cfg, factory, observability.GetLogger())
}

// runServe builds the components, serves until ctx is done and then shuts
// everything down.
func runServe(ctx context.Context, cfg config.Interface, factory service.ComponentFactory, logger *zap.Logger) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize miner: %w", err)
	}
	components.Start(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		components.Shutdown(shutdownCtx)
	}()

	server := api.NewServer(logger, cfg.Server(), cfg.Agent(), api.Deps{
		Solver:   components.Router,
		Feedback: components.Feedback,
		Metrics:  components.Metrics,
		Cache:    components.Cache,
		Governor: components.Governor,
	})
	return server.Run(ctx)
}
