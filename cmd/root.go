package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reasonrelay",
	Short: "Rewriting relay for the OpenAI API",
	Long: "reasonrelay forwards OpenAI API requests to a single upstream, rewriting\n" +
		"request bodies for reasoning models that reject the standard sampling\n" +
		"parameters, and streams everything else through untouched.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
}
