package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/rebootguard/internal/attach"
	"github.com/HerbHall/rebootguard/internal/classify"
	"github.com/HerbHall/rebootguard/internal/executor"
	"github.com/HerbHall/rebootguard/internal/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rebootguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := executor.DefaultConfig()
	if cfg.Executor.Program != want.Program {
		t.Errorf("Executor.Program = %q, want %q", cfg.Executor.Program, want.Program)
	}
	if cfg.Executor.GracePeriod != want.GracePeriod {
		t.Errorf("Executor.GracePeriod = %v, want %v", cfg.Executor.GracePeriod, want.GracePeriod)
	}
	if cfg.Executor.MaxPolls != want.MaxPolls {
		t.Errorf("Executor.MaxPolls = %d, want %d", cfg.Executor.MaxPolls, want.MaxPolls)
	}
	if cfg.Executor.Mount != executor.MountAuto {
		t.Errorf("Executor.Mount = %q, want auto", cfg.Executor.Mount)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.DiagnosticOutput != logging.DefaultDiagnosticOutput {
		t.Errorf("Logging.DiagnosticOutput = %q, want %q", cfg.Logging.DiagnosticOutput, logging.DefaultDiagnosticOutput)
	}
	if got := len(cfg.Points()); got != len(attach.Defaults()) {
		t.Errorf("Points() len = %d, want built-in %d", got, len(attach.Defaults()))
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
host:
  version: "13"
executor:
  action: framework-restart
  grace_period: 250ms
  max_polls: 15
  mount: shell
logging:
  level: debug
  diagnostic_output: /tmp/rebootguard-diag.log
attachments:
  - chain: custom
    location: com.example.Power.reboot
    priority: 0
    signature: [java.lang.String, int]
    min_host_version: "12"
    reboot:
      index: 1
      equals: 1
    reason:
      index: 0
    confirm:
      value: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Host.Version != "13" {
		t.Errorf("Host.Version = %q, want 13", cfg.Host.Version)
	}
	if cfg.Executor.Action != executor.ActionFrameworkRestart {
		t.Errorf("Executor.Action = %q", cfg.Executor.Action)
	}
	if cfg.Executor.GracePeriod != 250*time.Millisecond {
		t.Errorf("Executor.GracePeriod = %v, want 250ms", cfg.Executor.GracePeriod)
	}
	if cfg.Executor.MaxPolls != 15 {
		t.Errorf("Executor.MaxPolls = %d, want 15", cfg.Executor.MaxPolls)
	}
	if cfg.Executor.PollInterval != time.Second {
		t.Errorf("Executor.PollInterval = %v, want default 1s", cfg.Executor.PollInterval)
	}
	if cfg.Logging.DiagnosticOutput != "/tmp/rebootguard-diag.log" {
		t.Errorf("Logging.DiagnosticOutput = %q", cfg.Logging.DiagnosticOutput)
	}

	pts := cfg.Points()
	if len(pts) != 1 {
		t.Fatalf("Points() len = %d, want 1", len(pts))
	}
	p := pts[0]
	if p.Chain != "custom" || p.Location != "com.example.Power.reboot" || p.MinHostVersion != "12" {
		t.Errorf("point = %+v", p)
	}
	if !p.Signature.Equal(attach.Signature{"java.lang.String", "int"}) {
		t.Errorf("Signature = %v", p.Signature)
	}

	req := p.Extractor.Extract([]any{classify.SentinelReason, int32(1)})
	if classify.Classify(req) != classify.Suppressed {
		t.Errorf("configured extractor request %+v not suppressed", req)
	}
	req = p.Extractor.Extract([]any{classify.SentinelReason, int32(0)})
	if classify.Classify(req) != classify.PassThrough {
		t.Errorf("configured extractor request %+v suppressed for halt mode 0", req)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REBOOTGUARD_EXECUTOR_MAX_POLLS", "11")
	t.Setenv("REBOOTGUARD_EXECUTOR_PROGRAM", "/system/bin/restart")
	t.Setenv("REBOOTGUARD_HOST_VERSION", "14")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Executor.MaxPolls != 11 {
		t.Errorf("MaxPolls = %d, want 11", cfg.Executor.MaxPolls)
	}
	if cfg.Executor.Program != "/system/bin/restart" {
		t.Errorf("Program = %q", cfg.Executor.Program)
	}
	if cfg.Host.Version != "14" {
		t.Errorf("Host.Version = %q, want 14", cfg.Host.Version)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() expected error for missing explicit file")
	}
}

func TestLoad_InvalidExecutor(t *testing.T) {
	path := writeConfig(t, "executor:\n  max_polls: 0\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for max_polls 0")
	}
}

func TestLoad_InvalidAttachment(t *testing.T) {
	path := writeConfig(t, "attachments:\n  - chain: c\n    location: x\n    min_host_version: banana\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for malformed host version")
	}
}

func TestLoad_AttachmentWithoutReferences(t *testing.T) {
	tests := []struct {
		name string
		refs string
		want string
	}{
		{"no reboot", "    reason:\n      index: 2\n", "no reboot reference"},
		{"no reason", "    reboot:\n      value: true\n", "no reason reference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "attachments:\n  - chain: c\n    location: x\n"+tt.refs)
			_, err := Load(path)
			if !errors.Is(err, attach.ErrInvalidPoint) {
				t.Fatalf("Load() error = %v, want ErrInvalidPoint", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestArgConfig_Ref(t *testing.T) {
	idx := 2
	ref := ArgConfig{Index: &idx}.ref()
	if ref.Index != 2 {
		t.Errorf("Index = %d, want 2", ref.Index)
	}
	ref = ArgConfig{Value: true}.ref()
	if ref.Index != attach.NoArg || ref.Const != true {
		t.Errorf("const ref = %+v", ref)
	}
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	if got := v.GetDuration("executor.poll_interval"); got != time.Second {
		t.Errorf("poll_interval default = %v, want 1s", got)
	}
	if got := v.GetString("executor.shell"); got != "su" {
		t.Errorf("shell default = %q, want su", got)
	}
}

func TestWatch_ReloadsValidRevisions(t *testing.T) {
	path := writeConfig(t, "executor:\n  max_polls: 3\n")

	changes := make(chan *Config, 4)
	cfg, err := Watch(path, zap.NewNop(), func(c *Config) { changes <- c })
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Executor.MaxPolls)

	// An invalid revision is skipped, the next valid one is delivered.
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  max_polls: 0\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  max_polls: 9\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			require.NotEqual(t, 0, c.Executor.MaxPolls)
			if c.Executor.MaxPolls == 9 {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed for max_polls 9")
		}
	}
}

func TestWatch_NoFileIsStatic(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Watch("", zap.NewNop(), func(*Config) { t.Error("unexpected reload") })
	require.NoError(t, err)
	require.NotNil(t, cfg)
}
