package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shepherd-ai/shepherd/internal/observability"
)

func buildAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		Long:  "List the enabled agent profiles the server would load.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgents(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func runAgents(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Logging)
	source, err := buildProfileSource(cfg, logger)
	if err != nil {
		return err
	}

	profs, err := source.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENDPOINT\tTOOLSET\tAUTH\tDESCRIPTION")
	for _, p := range profs {
		toolset := p.Toolset
		if toolset == "" {
			toolset = "*"
		}
		auth := string(p.Auth.Mode)
		if auth == "" {
			auth = "none"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Endpoint, toolset, auth, p.Description)
	}
	return w.Flush()
}
