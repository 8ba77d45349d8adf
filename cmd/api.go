package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/memorypilot/watchagent/internal/agent"
	"github.com/memorypilot/watchagent/internal/config"
	"github.com/memorypilot/watchagent/internal/ingress"
	agentlog "github.com/memorypilot/watchagent/internal/log"
	"github.com/memorypilot/watchagent/internal/metrics"
	"github.com/memorypilot/watchagent/internal/protocol"
)

const ingressShutdownTimeout = 2 * time.Second

var apiCmd = &cobra.Command{
	Use:   "api [config-json]",
	Short: "Forward events submitted over HTTP",
	Long: `Listen on "address" for POST /store requests and emit each valid
submission as an event line. When "api_key" is set, requests must carry
"Authorization: Bearer <api_key>".`,
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
		a, srv, err := newAPIAgent(config.NewStore(cfg), control, cmd.OutOrStdout(), m)
		if err != nil {
			return err
		}
		defer closeIngress(srv)

		if err := a.Run(ctx); err != nil {
			return err
		}
		logControlError(control)
		return nil
	},
}

// newAPIAgent binds the ingress listener before anything else runs; a bind
// failure here is fatal.
func newAPIAgent(store *config.Store, control *protocol.Reader, out io.Writer, m *metrics.Metrics) (*agent.Agent, *ingress.Server, error) {
	srv, err := ingress.New(ingress.Config{Store: store, Metrics: m})
	if err != nil {
		return nil, nil, err
	}
	if err := srv.Listen(store.Load().Address); err != nil {
		return nil, nil, fmt.Errorf("failed to start ingress: %w", err)
	}

	a, err := agent.New(agent.Options{
		Name:        "api",
		Store:       store,
		Output:      protocol.NewWriter(out, protocol.FramingDoubled),
		Control:     control.Lines(),
		Ingress:     srv.Submissions(),
		Metrics:     m,
		Reconfigure: []agent.ReconfigureFunc{rebindIngress(srv)},
	})
	if err != nil {
		closeIngress(srv)
		return nil, nil, err
	}
	return a, srv, nil
}

// rebindIngress moves the listener when the configured address differs from
// the one actually bound. On failure the current listener keeps serving, and
// the next .CONFIG naming the same address tries again.
func rebindIngress(srv *ingress.Server) agent.ReconfigureFunc {
	return func(_, cfg *config.Config) {
		if cfg.Address == srv.ListenAddr() {
			return
		}
		if err := srv.Listen(cfg.Address); err != nil {
			agentlog.Error("failed to rebind ingress, keeping current listener", "addr", srv.Addr(), "error", err)
		}
	}
}

func closeIngress(srv *ingress.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), ingressShutdownTimeout)
	defer cancel()
	if err := srv.Close(ctx); err != nil {
		agentlog.Warn("ingress did not shut down cleanly", "error", err)
	}
}
