package executor

import (
	"context"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/kubently/kubently/internal/telemetry"
	"github.com/kubently/kubently/pkg/command"
	"github.com/kubently/kubently/pkg/whitelist"
)

// DefaultPoolConcurrency is the default number of commands the executor
// runs at once (spec.md §4.4 "bounded concurrency... default small, e.g.
// 4").
const DefaultPoolConcurrency = 4

// Pool validates and dispatches commands to a bounded number of concurrent
// workers so one slow command does not block the next (spec.md §4.4 step
// 2 and the command state machine "queued → delivered → validating →
// (rejected | executing) → ... → reported").
type Pool struct {
	sem       *semaphore.Weighted
	whitelist *whitelist.Handle
	runner    *Runner
	reporter  *Reporter
	logger    logger
}

// logger is the minimal interface Pool needs, kept narrow so callers can
// pass *slog.Logger without an import cycle in tests.
type logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewPool builds a Pool with the given concurrency, whitelist handle,
// runner, and result reporter.
func NewPool(concurrency int, wl *whitelist.Handle, runner *Runner, reporter *Reporter, log logger) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultPoolConcurrency
	}
	return &Pool{
		sem:       semaphore.NewWeighted(int64(concurrency)),
		whitelist: wl,
		runner:    runner,
		reporter:  reporter,
		logger:    log,
	}
}

// Dispatch validates cmd against the current whitelist snapshot. An
// invalid command is rejected synchronously without spawning a subprocess
// or consuming a pool slot (spec.md testable property #6 "Validation
// closure"). A valid command acquires a pool slot (blocking if the pool is
// saturated) and runs in its own goroutine, reporting the result when
// done.
func (p *Pool) Dispatch(ctx context.Context, cmd command.Command) {
	cmd.NormalizeTimeout()
	snap := p.whitelist.Snapshot()

	if err := whitelist.ValidateCommand(snap, cmd.Args); err != nil {
		reason := "invalid"
		if ve, ok := err.(*whitelist.ValidationError); ok {
			reason = ve.Reason
		}
		telemetry.CommandsRejectedTotal.WithLabelValues(cmd.ClusterID, reason).Inc()
		p.logger.Warn("command validation failed", "command_id", cmd.ID, "cluster_id", cmd.ClusterID, "error", err)
		result := command.Result{
			CommandID: cmd.ID,
			Success:   false,
			Error:     "Command validation failed: " + err.Error(),
		}
		if reportErr := p.reporter.Report(ctx, result); reportErr != nil {
			p.logger.Error("reporting validation-failure result", "command_id", cmd.ID, "error", reportErr)
		}
		return
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.logger.Warn("pool dispatch aborted, context done before slot acquired", "command_id", cmd.ID, "error", err)
		return
	}

	go func() {
		defer p.sem.Release(1)

		result := p.runner.Run(ctx, cmd)
		switch {
		case result.Success:
			telemetry.CommandsSucceededTotal.WithLabelValues(cmd.ClusterID).Inc()
		case strings.Contains(result.Error, "timed out"):
			telemetry.CommandsTimeoutTotal.WithLabelValues(cmd.ClusterID).Inc()
		default:
			telemetry.CommandsFailedTotal.WithLabelValues(cmd.ClusterID).Inc()
		}

		if err := p.reporter.Report(ctx, result); err != nil {
			p.logger.Error("reporting command result", "command_id", cmd.ID, "error", err)
		}
	}()
}
