package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/rebootguard/internal/attach"
	"github.com/HerbHall/rebootguard/internal/classify"
	"github.com/HerbHall/rebootguard/internal/host"
	"github.com/HerbHall/rebootguard/internal/interceptor"
	"github.com/HerbHall/rebootguard/internal/metrics"
)

var (
	simScript string
	simFormat string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simScript, "script", "", "Path to a simulation script YAML (required)")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|yaml)")
	_ = simulateCmd.MarkFlagRequired("script")
}

// Script describes a simulated host and the calls replayed against it.
type Script struct {
	HostVersion string `yaml:"host_version"`
	// Absent lists locations the host does not expose for binding.
	Absent []string     `yaml:"absent"`
	Calls  []ScriptCall `yaml:"calls"`
}

// ScriptCall is one request entering the host. A missing reason models a
// caller that passed none; an empty string is an empty reason.
type ScriptCall struct {
	Entry   string  `yaml:"entry"` // reboot, shutdown, ui-reboot
	Reason  *string `yaml:"reason"`
	Confirm bool    `yaml:"confirm"`
}

// CallResult is what happened to one scripted call.
type CallResult struct {
	Entry         string `yaml:"entry"`
	Reason        string `yaml:"reason"`
	ReachedKernel bool   `yaml:"reached_kernel"`
	Launched      int    `yaml:"launched"`
	Error         string `yaml:"error,omitempty"`
}

// SimulationReport summarizes a simulation run.
type SimulationReport struct {
	HostVersion string            `yaml:"host_version"`
	Guards      map[string]string `yaml:"guards"`
	Failures    int               `yaml:"attachment_failures"`
	Calls       []CallResult      `yaml:"calls"`
}

// countingLauncher records hand-offs without running anything.
type countingLauncher struct {
	mu sync.Mutex
	n  int
}

func (l *countingLauncher) Execute(string) {
	l.mu.Lock()
	l.n++
	l.mu.Unlock()
}

func (l *countingLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// LoadScript reads a simulation script from path.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	return &s, nil
}

// Simulate installs guards for points on a simulated host built from s
// and replays its calls. The privileged action is never run; hand-offs
// are only counted.
func Simulate(s *Script, points []attach.Point, logger *zap.Logger) (*SimulationReport, error) {
	opts := make([]host.AndroidOption, 0, len(s.Absent))
	for _, loc := range s.Absent {
		opts = append(opts, host.WithoutLocation(loc))
	}
	android := host.NewAndroid(s.HostVersion, opts...)
	launcher := &countingLauncher{}
	icpt := interceptor.New(android, classify.Default, launcher, logger, metrics.New(nil))
	res := icpt.InstallGuards(points)

	report := &SimulationReport{
		HostVersion: s.HostVersion,
		Guards:      make(map[string]string, len(res.Installed)),
		Failures:    len(res.Failures),
	}
	for chain, p := range res.Installed {
		report.Guards[chain] = p.Location
	}

	for i, c := range s.Calls {
		var call func(*string, bool) error
		switch c.Entry {
		case "reboot", "":
			call = android.Reboot
		case "shutdown":
			call = android.Shutdown
		case "ui-reboot":
			call = android.UIReboot
		default:
			return nil, fmt.Errorf("call %d: unknown entry %q", i, c.Entry)
		}

		beforeKernel, beforeLaunch := len(android.LowLevel()), launcher.count()
		r := CallResult{
			Entry:  c.Entry,
			Reason: classify.Request{Reason: c.Reason}.ReasonString(),
		}
		if err := call(c.Reason, c.Confirm); err != nil {
			r.Error = err.Error()
		}
		r.ReachedKernel = len(android.LowLevel()) > beforeKernel
		r.Launched = launcher.count() - beforeLaunch
		report.Calls = append(report.Calls, r)
	}
	return report, nil
}

func writeReportText(w io.Writer, r *SimulationReport) error {
	fmt.Fprintf(w, "host version: %s\n", r.HostVersion)
	fmt.Fprintf(w, "guards: %d installed, %d attachment failures\n\n", len(r.Guards), r.Failures)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tENTRY\tREASON\tRESULT\tLAUNCHED")
	for i, c := range r.Calls {
		result := "suppressed"
		switch {
		case c.Error != "":
			result = "error: " + c.Error
		case c.ReachedKernel:
			result = "pass_through"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", i+1, c.Entry, c.Reason, result, c.Launched)
	}
	return tw.Flush()
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay scripted reboot requests against a simulated host",
	Long: "Builds a simulated system_server, installs guards from the effective\n" +
		"attachment table and replays the calls listed in the script. Shows which\n" +
		"requests were suppressed and which reached the kernel boundary.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadSession()
		if err != nil {
			return err
		}
		defer rt.cleanup()

		script, err := LoadScript(simScript)
		if err != nil {
			return err
		}
		if script.HostVersion == "" {
			script.HostVersion = rt.cfg.Host.Version
		}

		report, err := Simulate(script, rt.cfg.Points(), rt.logger)
		if err != nil {
			return err
		}

		switch simFormat {
		case "yaml":
			out, err := yaml.Marshal(report)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		default:
			return writeReportText(cmd.OutOrStdout(), report)
		}
	},
}
