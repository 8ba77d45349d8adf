package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	agentlog "github.com/memorypilot/watchagent/internal/log"
	"github.com/memorypilot/watchagent/internal/metrics"
	"github.com/memorypilot/watchagent/internal/protocol"
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serveMetrics(ctx context.Context, m *metrics.Metrics, addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := m.Serve(ctx, addr); err != nil {
			agentlog.Error("metrics server stopped", "error", err)
		}
	}()
}

// logControlError reports why the control stream ended, if it was not EOF
func logControlError(control *protocol.Reader) {
	if err := control.Err(); err != nil {
		agentlog.Error("control stream failed", "error", err)
	}
}
