package executor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/pkg/whitelist"
)

// Long-poll cadence chosen from the coordinator's reported cluster-active
// state (spec.md §4.4 step 1).
const (
	activeLongPollWaitSeconds   = 1
	inactiveLongPollWaitSeconds = 20

	statusRefreshInterval = 10 * time.Second
)

// Runtime wires together the four concurrent activities of the executor
// process: stream receiver, long-poll fallback, whitelist reloader, and
// the local status server (spec.md §4.4).
type Runtime struct {
	cfg        *config.ExecutorConfig
	logger     *slog.Logger
	whitelist  *whitelist.Handle
	apiClient  *Client
	stream     *StreamReceiver
	longPoll   *LongPollClient
	pool       *Pool
	statusSrv  *http.Server
}

// NewRuntime constructs a Runtime from executor configuration, wiring the
// whitelist handle, API client, worker pool, stream receiver, long-poll
// client, and status server.
func NewRuntime(cfg *config.ExecutorConfig, logger *slog.Logger) *Runtime {
	wl := whitelist.NewHandle(cfg.WhitelistPath, logger)

	shortClient := NewHTTPClient()
	apiClient := NewClient(cfg.CoordinatorURL, cfg.ClusterID, cfg.ExecutorToken, shortClient)
	reporter := NewReporter(apiClient)

	runner := NewRunner(cfg.KubectlPath)
	pool := NewPool(cfg.PoolConcurrency, wl, runner, reporter, logger)

	streamClient := &http.Client{} // no timeout: the stream is long-lived
	stream := NewStreamReceiver(cfg.CoordinatorURL, cfg.ClusterID, cfg.ExecutorToken, streamClient, pool, logger)

	longPollClient := NewLongPollClient(cfg.CoordinatorURL, cfg.ClusterID, cfg.ExecutorToken, nil)

	rt := &Runtime{
		cfg:       cfg,
		logger:    logger,
		whitelist: wl,
		apiClient: apiClient,
		stream:    stream,
		longPoll:  longPollClient,
		pool:      pool,
	}
	rt.statusSrv = newStatusServer(cfg.StatusAddr(), rt)
	return rt
}

// Run starts all concurrent activities and blocks until ctx is cancelled
// or one activity fails unrecoverably.
func (rt *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.whitelist.Watch(gctx, time.Duration(rt.cfg.WhitelistReloadIntervalSeconds)*time.Second)
		return nil
	})

	g.Go(func() error {
		rt.stream.Run(gctx)
		return nil
	})

	g.Go(func() error {
		rt.runLongPollFallback(gctx)
		return nil
	})

	g.Go(func() error {
		return rt.statusSrv.ListenAndServe()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return rt.statusSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runLongPollFallback polls at a cadence informed by the cluster's
// reported active state. It runs concurrently with the stream receiver;
// this is safe because the coordinator's atomic queue pop guarantees a
// command is only ever delivered to one of the two paths (spec.md §5
// "A given command is delivered to at most one executor connection").
func (rt *Runtime) runLongPollFallback(ctx context.Context) {
	wait := inactiveLongPollWaitSeconds
	lastStatusCheck := time.Time{}

	for {
		if ctx.Err() != nil {
			return
		}

		if time.Since(lastStatusCheck) >= statusRefreshInterval {
			if status, err := rt.apiClient.Status(ctx); err == nil {
				if status.IsActive {
					wait = activeLongPollWaitSeconds
				} else {
					wait = inactiveLongPollWaitSeconds
				}
			}
			lastStatusCheck = time.Now()
		}

		cmds, err := rt.longPoll.Poll(ctx, wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rt.logger.Warn("long-poll fallback failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, cmd := range cmds {
			rt.pool.Dispatch(ctx, cmd)
		}
	}
}
