package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"paccer/internal/diag"
	"paccer/internal/trace"
)

// setupTracing builds the tracer from flags, falling back to the [trace]
// table of paccer.toml for flags left at their defaults. The tracer is
// attached to the command context.
func setupTracing(cmd *cobra.Command, tc traceConfig) (trace.Tracer, func(), error) {
	flags := cmd.Flags()

	traceOutput, err := flags.GetString("trace")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := flags.GetString("trace-level")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := flags.GetString("trace-mode")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	formatStr, err := flags.GetString("trace-format")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	ringSize, err := flags.GetInt("trace-ring-size")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeat, err := flags.GetDuration("trace-heartbeat")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	traceOutput = setting(cmd, "trace", traceOutput, tc.Output)
	levelStr = setting(cmd, "trace-level", levelStr, tc.Level)
	modeStr = setting(cmd, "trace-mode", modeStr, tc.Mode)
	formatStr = setting(cmd, "trace-format", formatStr, tc.Format)
	if !flags.Changed("trace-ring-size") && tc.RingSize > 0 {
		ringSize = tc.RingSize
	}
	if !flags.Changed("trace-heartbeat") && tc.Heartbeat != "" {
		heartbeat, err = time.ParseDuration(tc.Heartbeat)
		if err != nil {
			return nil, nil, diag.Errorf(diag.CatBadConfig, "config", "[trace].heartbeat: %w", err)
		}
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, nil, diag.Wrap(diag.UseBadFlag, "trace", "", err)
	}
	// --trace without a level means "show me the stages".
	if level == trace.LevelOff && traceOutput != "" {
		level = trace.LevelStage
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return trace.Nop, func() {}, nil
	}
	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, nil, diag.Wrap(diag.UseBadFlag, "trace", "", err)
	}
	format, err := trace.ParseFormat(formatStr)
	if err != nil {
		return nil, nil, diag.Wrap(diag.UseBadFlag, "trace", "", err)
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: traceOutput,
		RingSize:   ringSize,
		Heartbeat:  heartbeat,
	})
	if err != nil {
		return nil, nil, diag.Wrap(diag.IOTraceSetup, "trace", traceOutput, err)
	}

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)
	cmd.Root().SetContext(ctx)

	hb := trace.StartHeartbeat(tracer, heartbeat)
	cleanup := func() {
		hb.Stop()
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return tracer, cleanup, nil
}

// setting prefers an explicitly set flag, then the config value, then the
// flag default.
func setting(cmd *cobra.Command, flag, flagValue, configValue string) string {
	if cmd.Flags().Changed(flag) || configValue == "" {
		return flagValue
	}
	return configValue
}
