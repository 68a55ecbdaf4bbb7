package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stepflow/internal/executor"
	"github.com/v0xg/stepflow/internal/instruction"
	"github.com/v0xg/stepflow/internal/workflow"
)

func TestLoadConfig_FlagsOverride(t *testing.T) {
	cmd := newRunCmd()
	cmd.Flags().StringVar(&provider, "provider", "", "")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "")
	require.NoError(t, cmd.ParseFlags([]string{
		"--provider", "openai",
		"--headless=false",
		"--continue-on-error",
		"--step-delay", "300",
		"--log-format", "json",
		"--record", "out.gif",
	}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.False(t, cfg.Browser.Headless)
	assert.False(t, cfg.Run.StopOnError)
	assert.Equal(t, 300*time.Millisecond, cfg.Run.StepDelay)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "out.gif", cfg.Record.Path)
}

func TestLoadConfig_RejectsBadFlags(t *testing.T) {
	cmd := newRunCmd()
	cmd.Flags().StringVar(&logFormat, "log-format", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--log-format", "xml"}))

	_, err := loadConfig(cmd)
	assert.ErrorContains(t, err, "log.format")
}

func TestPrintValidation(t *testing.T) {
	var buf bytes.Buffer
	printValidation(&buf, &instruction.ValidationError{
		Stream: []string{"duplicate stepId 2"},
		Steps:  []instruction.StepErrors{{StepID: 2, Errors: []string{"params.key is required for press"}}},
	})
	assert.Equal(t, "✗ Invalid instruction stream\n  duplicate stepId 2\n  [step 2] params.key is required for press\n", buf.String())
}

func TestShortKey(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortKey("0123456789abcdef"))
	assert.Equal(t, "abc", shortKey("abc"))
}

func TestReport_JSONOutputIsClean(t *testing.T) {
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	eng := &engine{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	out := &workflow.Outcome{
		RunID:     "run-1",
		Key:       "0123456789abcdef",
		Results:   []executor.StepResult{{StepID: 1, Action: instruction.ActionPress}},
		Summary:   executor.Summary{Total: 1, Success: 1, AllPassed: true},
		Elapsed:   1500 * time.Millisecond,
		ElapsedMs: 1500,
	}

	var buf bytes.Buffer
	require.NoError(t, eng.report(&buf, out))

	require.True(t, json.Valid(buf.Bytes()), "stdout: %s", buf.String())
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["runId"])
	assert.EqualValues(t, 1500, decoded["elapsedMs"])

	assert.Equal(t, os.Stderr, progressWriter())
}

func TestReport_FailedRunText(t *testing.T) {
	eng := &engine{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	out := &workflow.Outcome{
		Key:     "0123456789abcdef",
		Summary: executor.Summary{Total: 3, Success: 1, Fail: 1},
		Results: make([]executor.StepResult, 2),
	}

	var buf bytes.Buffer
	assert.ErrorIs(t, eng.report(&buf, out), errStepsFailed)
	assert.Contains(t, buf.String(), "✗ 1/3 passed, 1 not run (planned plan")
	assert.Contains(t, buf.String(), "stepflow cache show 0123456789ab")
	assert.Equal(t, os.Stdout, progressWriter())
}
