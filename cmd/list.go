package cmd

import (
	"github.com/spf13/cobra"

	"gooze.dev/pkg/schemata/internal/domain"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [paths...]",
		Short: "List source files and mutant counts",
		Long:  listLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			discover, err := discoverOptionsFromConfig()
			if err != nil {
				return err
			}

			return workflow.Estimate(cmd.Context(), domain.EstimateArgs{
				Paths:    parsePaths(args),
				Discover: discover,
			})
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(newListCmd())
}
