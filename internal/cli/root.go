// Package cli wires the arachne command line: run drives a full enrichment
// run, validate checks a configuration without touching the remote service,
// and sheets lists the worksheets of an XLSX input.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/wehubfusion/Arachne/pkg/config"
)

// buildVersion is stamped by NewRootCmd so subcommands can report it.
var buildVersion = "dev"

// NewRootCmd creates the root Cobra command for the arachne CLI.
func NewRootCmd(version string) *cobra.Command {
	if version != "" {
		buildVersion = version
	}

	cmd := &cobra.Command{
		Use:          "arachne",
		Short:        "Batch enrichment of tabular data through a text-generation service",
		Long:         "Arachne streams rows from a CSV or XLSX file, asks a chat-completions service to produce structured fields for each row, and merges the replies into a new table.",
		Version:      buildVersion,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to a YAML configuration file")

	cmd.AddCommand(newRunCmd(), newValidateCmd(), newSheetsCmd(), newVersionCmd())
	return cmd
}

// loadConfig builds the effective configuration for a command: YAML file if
// given, then environment overrides, then defaults for whatever is unset.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	return cfg.WithDefaults(), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the arachne version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("arachne", buildVersion)
		},
	}
}
