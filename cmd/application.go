package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/memorypilot/watchagent/internal/agent"
	"github.com/memorypilot/watchagent/internal/config"
	agentlog "github.com/memorypilot/watchagent/internal/log"
	"github.com/memorypilot/watchagent/internal/metrics"
	"github.com/memorypilot/watchagent/internal/protocol"
	"github.com/memorypilot/watchagent/internal/schedule"
	"github.com/memorypilot/watchagent/internal/watcher"
)

var applicationCmd = &cobra.Command{
	Use:   "application [config-json]",
	Short: "Report active window changes",
	Long: `Poll the active window every "interval" seconds and emit an
"application" event whenever its position, size, or text changes. Windows
whose process name is listed in "ignore" are skipped. Changes under the
"watch" paths trigger an extra poll.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(configJSON, configFile, args)
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		m := metrics.New()
		serveMetrics(ctx, m, metricsAddr)

		control := protocol.NewReader(cmd.InOrStdin())
		defer control.Close()
		a, err := newApplicationAgent(applicationDeps{
			store:   config.NewStore(cfg),
			control: control,
			out:     cmd.OutOrStdout(),
			poll:    watcher.NewWindowSource(),
			metrics: m,
		})
		if err != nil {
			return err
		}
		if err := a.Run(ctx); err != nil {
			return err
		}
		logControlError(control)
		return nil
	},
}

type applicationDeps struct {
	store     *config.Store
	control   *protocol.Reader
	out       io.Writer
	poll      watcher.PollSource
	newTicker schedule.NewTickerFunc
	metrics   *metrics.Metrics
}

func newApplicationAgent(d applicationDeps) (*agent.Agent, error) {
	cfg := d.store.Load()
	queue := watcher.NewQueue(watcher.DefaultQueueSize)
	d.metrics.RegisterWakeDrops(queue.Dropped)
	files := watcher.NewFileNotifier(queue, cfg.Watch...)

	return agent.New(agent.Options{
		Name:        "application",
		Store:       d.store,
		Output:      protocol.NewWriter(d.out, protocol.FramingSingle),
		Control:     d.control.Lines(),
		Scheduler:   schedule.New(cfg.PollInterval(), d.newTicker),
		Poll:        d.poll,
		InitialPoll: true,
		Push:        queue,
		Watchers:    []watcher.Watcher{files},
		Metrics:     d.metrics,
		Reconfigure: []agent.ReconfigureFunc{retargetWatch(files)},
	})
}

// retargetWatch follows changes to the watch list
func retargetWatch(files *watcher.FileNotifier) agent.ReconfigureFunc {
	return func(old, cfg *config.Config) {
		if !old.WatchChanged(cfg) {
			return
		}
		if err := files.SetPaths(cfg.Watch); err != nil {
			agentlog.Warn("failed to update watch paths", "error", err)
			return
		}
		agentlog.Info("watch paths updated", "paths", cfg.Watch)
	}
}
