package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcourtman/healthdash/internal/logging"
	"github.com/rcourtman/healthdash/pkg/provider"
	"github.com/rcourtman/healthdash/pkg/telemetry"
)

type viewOptions struct {
	url        string
	windowSize int
	count      int
	showLogs   bool
}

var viewOpts viewOptions

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Connect to an agent and print each sample as it arrives",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView(cmd.Context(), cmd.OutOrStdout(), viewOpts)
	},
}

func init() {
	viewCmd.Flags().StringVar(&viewOpts.url, "url", "", "Agent websocket URL (default from HEALTHDASH_URL or ws://127.0.0.1:<HEALTHDASH_PORT>/)")
	viewCmd.Flags().IntVar(&viewOpts.windowSize, "window-size", 0, "Samples kept in the rolling window (default from HEALTHDASH_WINDOW_SIZE or 60)")
	viewCmd.Flags().IntVar(&viewOpts.count, "count", 0, "Exit after printing this many samples (0 runs until interrupted)")
	viewCmd.Flags().BoolVar(&viewOpts.showLogs, "logs", true, "Print log lines forwarded by the agent")
}

// lineWriter serialises output from subscriber callbacks.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) println(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, line)
}

func runView(ctx context.Context, out io.Writer, opts viewOptions) error {
	logger := logging.Component("view")

	p, err := provider.New(provider.Config{
		URL:        opts.url,
		WindowSize: opts.windowSize,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &lineWriter{out: out}
	var printed int
	p.SubscribeMetrics(func(s telemetry.Sample) {
		if opts.count > 0 && printed >= opts.count {
			return
		}
		w.println(formatSample(s))
		printed++
		if opts.count > 0 && printed >= opts.count {
			cancel()
		}
	})
	if opts.showLogs {
		p.SubscribeLogs(func(l telemetry.LogLine) {
			w.println(formatLogLine(l))
		})
	}

	logger.Info().Str("url", p.URL()).Msg("Waiting for samples")

	<-ctx.Done()

	stats := p.Stats()
	logger.Info().
		Uint64("samples", stats.SamplesReceived).
		Uint64("dropped", stats.Dropped).
		Uint64("reconnects", stats.Reconnects).
		Msg("Viewer stopped")
	return nil
}

const mib = 1024 * 1024

func formatSample(s telemetry.Sample) string {
	return fmt.Sprintf("%s  cpu %5.1f%%  heap %7.1f/%7.1f MiB  rss %7.1f MiB  sys %8.1f MiB  loop %6.2fms (high %6.2fms)",
		s.Timestamp.Local().Format(time.TimeOnly),
		s.CPU.Utilization,
		float64(s.Mem.HeapUsed)/mib,
		float64(s.Mem.HeapTotal)/mib,
		float64(s.Mem.RSS)/mib,
		float64(s.Mem.SystemTotal)/mib,
		s.EventLoop.Delay,
		s.EventLoop.High,
	)
}

func formatLogLine(l telemetry.LogLine) string {
	return fmt.Sprintf("%s  [%s] %s", l.Timestamp.Local().Format(time.TimeOnly), l.Stream, l.Line)
}
