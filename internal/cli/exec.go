package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/HerbHall/rebootguard/internal/classify"
	"github.com/HerbHall/rebootguard/internal/executor"
)

var (
	execTag    string
	execAction string
	execGrace  bool
)

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().StringVar(&execTag, "tag", classify.SentinelReason, "Tag passed to the privileged action")
	execCmd.Flags().StringVar(&execAction, "action", "", "Override executor.action (script|framework-restart)")
	execCmd.Flags().BoolVar(&execGrace, "grace", true, "Honour the grace period before spawning")
}

type attemptDoc struct {
	ID          string   `json:"id"`
	Tag         string   `json:"tag"`
	Command     []string `json:"command"`
	Pid         int      `json:"pid,omitempty"`
	Polls       int      `json:"polls"`
	ExitStatus  *int     `json:"exit_status,omitempty"`
	Signaled    bool     `json:"signaled,omitempty"`
	TimedOut    bool     `json:"timed_out"`
	OutputLines int      `json:"output_lines"`
	State       string   `json:"state"`
	Error       string   `json:"error,omitempty"`
}

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run the privileged action once in the foreground",
	Long: "Runs the executor exactly as a suppressed reboot would, but waits for the\n" +
		"run to finish and prints the attempt. Exits non-zero when the action could\n" +
		"not be started, reported failure, or was interrupted before it finished.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadSession()
		if err != nil {
			return err
		}
		defer rt.cleanup()

		cfg := rt.cfg.Executor
		if execAction != "" {
			cfg.Action = executor.Action(execAction)
		}
		if !execGrace {
			cfg.GracePeriod = 0
		}
		ex, err := executor.New(cfg, rt.logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := ex.Run(ctx, execTag)
		doc := attemptDoc{
			ID:          a.ID,
			Tag:         a.Tag,
			Command:     a.Command,
			Pid:         a.Pid,
			Polls:       len(a.PollTimes),
			ExitStatus:  a.ExitStatus,
			Signaled:    a.Signaled,
			TimedOut:    a.TimedOut,
			OutputLines: a.OutputLines,
			State:       string(a.State),
		}
		if a.Err != nil {
			doc.Error = a.Err.Error()
		}
		out, _ := json.MarshalIndent(doc, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return execResult(a)
	},
}

// execResult maps a finished attempt to the command's exit error. An
// interrupted run confirms nothing, so it is reported like a failure.
func execResult(a *executor.Attempt) error {
	if a.Failed() || a.State == executor.StateCancelled {
		if a.Err != nil {
			return fmt.Errorf("privileged action %s: %w", a.State, a.Err)
		}
		return fmt.Errorf("privileged action %s", a.State)
	}
	return nil
}
