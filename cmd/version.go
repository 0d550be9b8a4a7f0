package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reasonrelay/reasonrelay/pkg/version"
)

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("reasonrelay"))
		},
	}
	rootCmd.AddCommand(versionCmd)
}
