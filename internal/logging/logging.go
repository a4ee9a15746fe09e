// Package logging builds the dual-channel logger: a user-visible console
// channel and a diagnostic JSON channel kept for post-mortem analysis.
// Every entry is written once to each channel whose level admits it.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultDiagnosticOutput is the diagnostic log inside the module's data
// directory. When it cannot be opened the logger keeps the console channel
// only and says so; an explicitly configured path must open.
const DefaultDiagnosticOutput = "/data/adb/rebootguard/diagnostic.log"

// Config configures both channels.
type Config struct {
	Level            string `mapstructure:"level"`
	Output           string `mapstructure:"output"`
	DiagnosticLevel  string `mapstructure:"diagnostic_level"`
	DiagnosticOutput string `mapstructure:"diagnostic_output"` // empty disables the channel
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		Output:           "stderr",
		DiagnosticLevel:  "debug",
		DiagnosticOutput: DefaultDiagnosticOutput,
	}
}

// New builds the logger. The returned func closes opened files.
func New(cfg Config) (*zap.Logger, func(), error) {
	userLevel, err := zapcore.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}
	userOut, closeUser, err := zap.Open(orDefault(cfg.Output, "stderr"))
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), userOut, userLevel),
	}
	closers := []func(){closeUser}

	var diagErr error
	if cfg.DiagnosticOutput != "" {
		diagLevel, err := zapcore.ParseLevel(orDefault(cfg.DiagnosticLevel, "debug"))
		if err != nil {
			closeUser()
			return nil, nil, fmt.Errorf("parse diagnostic log level: %w", err)
		}
		diagOut, closeDiag, err := zap.Open(cfg.DiagnosticOutput)
		switch {
		case err == nil:
			jsonCfg := zap.NewProductionEncoderConfig()
			jsonCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), diagOut, diagLevel))
			closers = append(closers, closeDiag)
		case cfg.DiagnosticOutput == DefaultDiagnosticOutput:
			diagErr = err
		default:
			closeUser()
			return nil, nil, fmt.Errorf("open diagnostic output: %w", err)
		}
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.ErrorOutput(userOut)).Named("rebootguard")
	if diagErr != nil {
		logger.Warn("diagnostic log unavailable, logging to console only",
			zap.String("path", cfg.DiagnosticOutput),
			zap.Error(diagErr),
		)
	}
	cleanup := func() {
		_ = logger.Sync()
		for _, c := range closers {
			c()
		}
	}
	return logger, cleanup, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
