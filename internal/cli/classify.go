package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HerbHall/rebootguard/internal/classify"
)

var (
	clsReboot   bool
	clsReason   string
	clsNoReason bool
	clsConfirm  bool
)

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().BoolVar(&clsReboot, "reboot", true, "Request is a reboot (false: shutdown)")
	classifyCmd.Flags().StringVar(&clsReason, "reason", "", "Reboot reason string")
	classifyCmd.Flags().BoolVar(&clsNoReason, "no-reason", false, "Model a request that carries no reason at all")
	classifyCmd.Flags().BoolVar(&clsConfirm, "confirm", false, "Request asks for user confirmation")
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a single reboot request",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := classify.NewRequest(clsReboot, clsReason, clsConfirm)
		if clsNoReason {
			if cmd.Flags().Changed("reason") {
				return fmt.Errorf("--reason and --no-reason are mutually exclusive")
			}
			req.Reason = nil
		}
		outcome := classify.Classify(req)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", outcome, classify.Describe(req))
		return nil
	},
}
