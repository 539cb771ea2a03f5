// Package executor implements the in-cluster executor runtime: stream/
// long-poll command receipt, whitelist validation, bounded-concurrency
// kubectl execution, and result reporting (spec.md §4.4 "Executor runtime").
package executor

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kubently/kubently/pkg/command"
)

// Runner executes a validated command's argv list as a kubectl subprocess.
// It never shell-interpolates: args are passed straight to exec.CommandContext
// (spec.md §4.4 "Never shell-interpolate; always exec with an argv list").
type Runner struct {
	kubectlPath string
}

// NewRunner builds a Runner invoking the given kubectl binary path.
func NewRunner(kubectlPath string) *Runner {
	if kubectlPath == "" {
		kubectlPath = "kubectl"
	}
	return &Runner{kubectlPath: kubectlPath}
}

// Run executes cmd.Args under a context bounded by cmd.TimeoutSeconds
// (already clamped to [1,30] by command.NormalizeTimeout), capturing
// stdout/stderr and exit code, and killing the whole process group on
// timeout (spec.md §5 "An executor subprocess timeout kills the process
// group").
func (r *Runner) Run(ctx context.Context, cmd command.Command) command.Result {
	start := time.Now()
	timeout := time.Duration(cmd.TimeoutSeconds) * time.Second

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := cmd.Args
	if cmd.Namespace != "" {
		args = append(append([]string{}, args...), "-n", cmd.Namespace)
	}

	ecmd := exec.CommandContext(runCtx, r.kubectlPath, args...)
	ecmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	ecmd.Cancel = killProcessGroup(ecmd)

	var stdout, stderr strings.Builder
	ecmd.Stdout = &stdout
	ecmd.Stderr = &stderr

	err := ecmd.Run()
	elapsed := time.Since(start)

	result := command.Result{
		CommandID:       cmd.ID,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Success = false
		result.Error = "Command timed out after " + strconv.Itoa(cmd.TimeoutSeconds) + " seconds"
		return result
	}

	if err != nil {
		result.Success = false
		result.Output = stdout.String()
		result.Error = stderr.String()
		if result.Error == "" {
			result.Error = err.Error()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			result.ExitCode = &code
		}
		return result
	}

	code := 0
	result.Success = true
	result.Output = stdout.String()
	result.ExitCode = &code
	return result
}

// killProcessGroup returns a cancel func that sends SIGKILL to the whole
// process group rather than just the direct child, so a kubectl subprocess
// that itself forks cannot survive a timeout.
func killProcessGroup(ecmd *exec.Cmd) func() error {
	return func() error {
		if ecmd.Process == nil {
			return nil
		}
		pgid, err := syscall.Getpgid(ecmd.Process.Pid)
		if err != nil {
			return ecmd.Process.Kill()
		}
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

