package jobs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/schedlens/core/pkg/logger"
)

var (
	shellOnce sync.Once
	shellPath = "/bin/bash"
)

// shell resolves the shell binary once, falling back to sh when bash is
// not installed.
func shell() string {
	shellOnce.Do(func() {
		if _, err := exec.LookPath(shellPath); err != nil {
			shellPath = "/bin/sh"
		}
	})
	return shellPath
}

// CommandJob runs a shell command on every fire. The run context carries
// the execution timeout, so a hung command is killed with its run.
type CommandJob struct {
	command string
	logger  *logger.Logger
}

// NewCommandJob creates a job that executes the given shell command.
func NewCommandJob(command string) *CommandJob {
	return &CommandJob{
		command: command,
		logger:  logger.New("command-job"),
	}
}

// Execute runs the command and reports a non-zero exit or start failure as
// an error carrying the tail of stderr.
func (j *CommandJob) Execute(ctx context.Context) error {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell(), "-c", j.command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if detail := truncate(strings.TrimSpace(stderr.String()), 500); detail != "" {
			return fmt.Errorf("failed to run command (exit %d): %w: %s", exitCode, err, detail)
		}
		return fmt.Errorf("failed to run command (exit %d): %w", exitCode, err)
	}

	j.logger.Debug().
		Str("action", "command_completed").
		Int("exit_code", exitCode).
		Int("stdout_bytes", stdout.Len()).
		Msg("Command completed")
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
