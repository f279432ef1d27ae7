// Package toolchain invokes the external build of the generated server code
// and supervises the generated server while its routes are validated.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// BuildResult is the outcome of one build invocation.
type BuildResult struct {
	Success  bool
	ExitCode int
	Stderr   string
	Stdout   string
	Duration time.Duration
	Command  string
}

// Builder compiles the persisted code. A returned error means the build
// could not be run at all; compiler failures are reported in BuildResult.
type Builder interface {
	Build(ctx context.Context) (*BuildResult, error)
}

// CommandBuilder runs a fixed command in a fixed working directory and
// blocks until it exits.
type CommandBuilder struct {
	Command []string
	Dir     string
}

// NewCommandBuilder validates the command line.
func NewCommandBuilder(command []string, dir string) (*CommandBuilder, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("build command is empty")
	}
	return &CommandBuilder{Command: append([]string(nil), command...), Dir: dir}, nil
}

// Build implements Builder.
func (b *CommandBuilder) Build(ctx context.Context) (*BuildResult, error) {
	started := time.Now()

	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = b.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &BuildResult{
		Success:  err == nil,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
		Command:  strings.Join(b.Command, " "),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, fmt.Errorf("run %q in %s: %w", result.Command, b.Dir, err)
}

var _ Builder = (*CommandBuilder)(nil)
