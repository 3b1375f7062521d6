package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Arachne/pkg/tabular"
)

func newSheetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sheets [file]",
		Short: "List the worksheets of an XLSX file",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # List sheets of a workbook
  arachne sheets people.xlsx

  # List sheets of the configured input
  arachne sheets --config enrich.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.Input
			}
			if path == "" {
				return errors.New("no file given: pass a path or set input in the config")
			}

			names, err := tabular.SheetNames(path)
			if err != nil {
				return err
			}
			for i, name := range names {
				cmd.Printf("%d: %s\n", i, name)
			}
			return nil
		},
	}
}
