package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/config"
	"github.com/skein-ai/skein/internal/cron"
	"github.com/skein-ai/skein/internal/observability"
)

func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect configured agents",
	}
	cmd.AddCommand(buildAgentsListCmd(), buildAgentsValidateCmd())
	return cmd
}

func buildAgentsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAgentStore(resolveConfigPath(configPath))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tSCHEDULE\tSOURCES")
			for _, agent := range store.List() {
				schedule := agent.Schedule
				if schedule == "" {
					schedule = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\n",
					agent.ID, agent.Name, agent.Enabled, schedule, len(agent.Sources))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildAgentsValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate agent definitions and their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAgentStore(resolveConfigPath(configPath))
			if err != nil {
				return err
			}

			problems := 0
			for _, agent := range store.List() {
				if agent.Schedule == "" {
					continue
				}
				if err := cron.ValidateExpr(agent.Schedule); err != nil {
					fmt.Printf("agent %s: %v\n", agent.ID, err)
					problems++
				}
			}
			if problems > 0 {
				return fmt.Errorf("%d invalid schedule(s)", problems)
			}
			fmt.Println("All agent definitions are valid.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func openAgentStore(configPath string) (*agents.Store, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "warn", Format: "text"})
	return agents.NewStore(cfg.Agents.ConfigPath, logger)
}
