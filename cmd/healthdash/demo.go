package main

import (
	"context"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/healthdash/internal/config"
	"github.com/rcourtman/healthdash/internal/logging"
	"github.com/rcourtman/healthdash/pkg/agent"
)

type demoOptions struct {
	host             string
	port             int
	refreshInterval  time.Duration
	blockedThreshold time.Duration
	busy             time.Duration
	allocMiB         int
	cycle            time.Duration
	duration         time.Duration
	view             bool
}

var demoOpts demoOptions

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an agent inside a process with a synthetic workload",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd.Context(), cmd.OutOrStdout(), demoOpts)
	},
}

func init() {
	flags := demoCmd.Flags()
	flags.StringVar(&demoOpts.host, "host", "", "Bind host (default from HEALTHDASH_HOST or 127.0.0.1)")
	flags.IntVar(&demoOpts.port, "port", 0, "Bind port (default from HEALTHDASH_PORT or 9838)")
	flags.DurationVar(&demoOpts.refreshInterval, "refresh-interval", 0, "Sampling period (default from HEALTHDASH_REFRESH_INTERVAL or 1s)")
	flags.DurationVar(&demoOpts.blockedThreshold, "blocked-threshold", 0, "Scheduler delay worth a warning (default from HEALTHDASH_BLOCKED_THRESHOLD or 10ms)")
	flags.DurationVar(&demoOpts.busy, "busy", 50*time.Millisecond, "CPU burned on every processor per workload cycle")
	flags.IntVar(&demoOpts.allocMiB, "alloc", 4, "MiB allocated per workload cycle")
	flags.DurationVar(&demoOpts.cycle, "cycle", time.Second, "Workload cycle period")
	flags.DurationVar(&demoOpts.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	flags.BoolVar(&demoOpts.view, "view", false, "Also print samples from an embedded viewer")
}

func runDemo(ctx context.Context, out io.Writer, opts demoOptions) error {
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	a, err := agent.New(agent.Options{
		Host:             opts.host,
		Port:             opts.port,
		RefreshInterval:  opts.refreshInterval,
		BlockedThreshold: opts.blockedThreshold,
	})
	if err != nil {
		return err
	}
	defer a.Destroy()

	// Tee the demo's own logs to connected viewers.
	logging.Init(logging.Config{
		Format:    os.Getenv(config.EnvLogFormat),
		Level:     os.Getenv(config.EnvLogLevel),
		Component: "demo",
		Extra:     a.LogTail(),
	})

	a.OnError(func(err error) {
		log.Warn().Err(err).Msg("Sample dropped")
	})

	log.Info().
		Str("url", a.URL()).
		Str("metrics", "http://"+a.Addr().String()+"/metrics").
		Msg("Demo agent running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runWorkload(gctx, log.Logger, opts)
		return nil
	})
	if opts.view {
		g.Go(func() error {
			return runView(gctx, out, viewOptions{url: a.URL()})
		})
	}

	err = g.Wait()
	log.Info().Msg("Demo stopped")
	return err
}

// runWorkload burns CPU on every processor, churns the heap and logs a
// line per cycle until ctx ends.
func runWorkload(ctx context.Context, logger zerolog.Logger, opts demoOptions) {
	if opts.cycle <= 0 {
		opts.cycle = time.Second
	}
	ticker := time.NewTicker(opts.cycle)
	defer ticker.Stop()

	retained := make([][]byte, 0, 8)
	for cycle := 1; ; cycle++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		spin(opts.busy)

		if opts.allocMiB > 0 {
			chunk := make([]byte, opts.allocMiB<<20)
			for i := 0; i < len(chunk); i += 4096 {
				chunk[i] = byte(cycle)
			}
			retained = append(retained, chunk)
			if len(retained) == cap(retained) {
				retained = retained[:0]
			}
		}

		logger.Info().
			Int("cycle", cycle).
			Dur("busy", opts.busy).
			Int("retained_chunks", len(retained)).
			Msg("Workload cycle finished")
	}
}

// spin keeps every processor busy for d.
func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	var wg sync.WaitGroup
	for i := 0; i < runtime.GOMAXPROCS(0); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(d)
			for time.Now().Before(deadline) {
			}
		}()
	}
	wg.Wait()
}
