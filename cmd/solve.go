package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/irun2themoney/autoppia-miner/internal/agent"
	"github.com/irun2themoney/autoppia-miner/internal/api"
	"github.com/irun2themoney/autoppia-miner/internal/observability"
	"github.com/irun2themoney/autoppia-miner/internal/service"
)

func newSolveCmd(factory service.ComponentFactory) *cobra.Command {
	var prompt, url, id string
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Synthesize actions for one task and print the response",
		Example: `  autoppia-miner solve --prompt "Login with username:alice and password:secret" \
      --url http://localhost:8001/login`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("--prompt is required")
			}
			if id == "" {
				id = uuid.NewString()
			}
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := factory.Create(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize miner: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			start := time.Now()
			resp := components.Router.Solve(cmd.Context(), agent.Task{ID: id, Prompt: prompt, URL: url})
			out := api.NewSolveResponse(id, resp, cfg.Agent().WebAgentID, time.Since(start))

			data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "Natural-language task prompt")
	cmd.Flags().StringVar(&url, "url", "", "Target page URL (inferred from the prompt when empty)")
	cmd.Flags().StringVar(&id, "id", "", "Task id (random when empty)")
	return cmd
}
