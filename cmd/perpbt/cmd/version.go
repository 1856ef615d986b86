package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/perpbt/strategies"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the perpbt CLI and the registered strategies.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("perpbt version %s\n", version)
		fmt.Printf("strategies: %s\n", strings.Join(strategies.Names(), ", "))
		fmt.Println("https://github.com/rustyeddy/perpbt")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
