package cli

import (
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var checkSource bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a run configuration",
		Long: `Validates the effective configuration (file, environment, defaults) and
reports every problem at once. The remote service is never contacted.`,
		Example: `  # Validate a config file
  arachne validate --config enrich.yaml

  # Also check that the input file exists and is readable
  arachne validate --config enrich.yaml --source`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if checkSource {
				if err := cfg.ValidateSource(); err != nil {
					return err
				}
			}
			cmd.Println("configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkSource, "source", false, "also check that the input path is readable")
	return cmd
}
