package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HerbHall/rebootguard/internal/version"
)

var versionShort bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print the one-line version string")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if versionShort {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
			return
		}
		out, _ := json.MarshalIndent(version.Map(), "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	},
}
