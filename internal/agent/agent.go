// Package agent runs the event loop shared by all agent types: it
// multiplexes ticks, push wakes, ingress submissions and control lines into
// one ordered output stream.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/memorypilot/watchagent/internal/config"
	"github.com/memorypilot/watchagent/internal/filter"
	"github.com/memorypilot/watchagent/internal/ingress"
	agentlog "github.com/memorypilot/watchagent/internal/log"
	"github.com/memorypilot/watchagent/internal/metrics"
	"github.com/memorypilot/watchagent/internal/protocol"
	"github.com/memorypilot/watchagent/internal/schedule"
	"github.com/memorypilot/watchagent/internal/watcher"
	"github.com/memorypilot/watchagent/pkg/models"
)

// ErrQuit is returned by the control handler when the parent asks the agent
// to stop. Run translates it into a clean nil return.
var ErrQuit = errors.New("quit requested")

// Sink receives accepted events
type Sink interface {
	Write(ev models.Event) error
}

// ReconfigureFunc is called after the config has been replaced
type ReconfigureFunc func(old, cfg *config.Config)

// Options wires an agent. Every source is optional; a missing source simply
// never becomes ready.
type Options struct {
	Name    string
	Store   *config.Store
	Output  Sink
	Control <-chan string

	// Scheduler and Poll drive periodic queries
	Scheduler   *schedule.Scheduler
	Poll        watcher.PollSource
	InitialPoll bool
	// Push wakes trigger an extra poll
	Push    watcher.PushSource
	Ingress <-chan *ingress.Submission

	// Watchers are started with the loop and stopped when it exits
	Watchers []watcher.Watcher

	Filter      *filter.Window
	Metrics     *metrics.Metrics
	Reconfigure []ReconfigureFunc
}

// Agent is one running agent loop
type Agent struct {
	name        string
	store       *config.Store
	out         Sink
	control     <-chan string
	scheduler   *schedule.Scheduler
	poll        watcher.PollSource
	initialPoll bool
	push        watcher.PushSource
	ingress     <-chan *ingress.Submission
	watchers    []watcher.Watcher
	filter      *filter.Window
	metrics     *metrics.Metrics
	reconfigure []ReconfigureFunc
}

// New validates opts and creates an agent
func New(opts Options) (*Agent, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if opts.Output == nil {
		return nil, fmt.Errorf("output sink is required")
	}
	if (opts.Scheduler != nil || opts.Push != nil || opts.InitialPoll) && opts.Poll == nil {
		return nil, fmt.Errorf("poll source is required when ticks or wakes are configured")
	}
	if opts.Name == "" {
		opts.Name = "agent"
	}
	if opts.Filter == nil {
		opts.Filter = filter.NewWindow()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	return &Agent{
		name:        opts.Name,
		store:       opts.Store,
		out:         opts.Output,
		control:     opts.Control,
		scheduler:   opts.Scheduler,
		poll:        opts.Poll,
		initialPoll: opts.InitialPoll,
		push:        opts.Push,
		ingress:     opts.Ingress,
		watchers:    opts.Watchers,
		filter:      opts.Filter,
		metrics:     opts.Metrics,
		reconfigure: opts.Reconfigure,
	}, nil
}

// Run services one ready source per iteration until ctx is cancelled, the
// parent sends .QUIT, or the control stream ends. All three are clean exits
// and return nil.
func (a *Agent) Run(ctx context.Context) error {
	started := a.startWatchers()
	defer func() {
		for _, w := range started {
			w.Stop()
		}
	}()
	if a.scheduler != nil {
		defer a.scheduler.Stop()
	}

	agentlog.Info("starting agent", "agent", a.name, "config", a.store.Load().String())

	if a.initialPoll {
		a.pollOnce(ctx, models.OriginPoll)
	}

	var ticks <-chan time.Time
	if a.scheduler != nil {
		ticks = a.scheduler.C()
	}
	var wakes <-chan struct{}
	if a.push != nil {
		wakes = a.push.Wakes()
	}

	for {
		select {
		case <-ctx.Done():
			agentlog.Info("shutdown signal received", "agent", a.name)
			return nil

		case <-ticks:
			a.pollOnce(ctx, models.OriginPoll)
			if a.scheduler.Sync(a.store.Load().PollInterval()) {
				agentlog.Info("poll interval changed", "agent", a.name, "period", a.scheduler.Period())
			}

		case <-wakes:
			a.pollOnce(ctx, models.OriginPush)

		case sub := <-a.ingress:
			if err := sub.Err(); err != nil {
				agentlog.Warn("ingress request expired before write", "request_id", sub.RequestID, "error", err)
				sub.Complete(err)
				continue
			}
			sub.Complete(a.emit(sub.Event))

		case line, ok := <-a.control:
			if !ok {
				agentlog.Info("control stream closed", "agent", a.name)
				return nil
			}
			if err := a.handleControl(line); err != nil {
				if errors.Is(err, ErrQuit) {
					agentlog.Info("quit requested", "agent", a.name)
					return nil
				}
				return err
			}
		}
	}
}

func (a *Agent) startWatchers() []watcher.Watcher {
	started := make([]watcher.Watcher, 0, len(a.watchers))
	for _, w := range a.watchers {
		if err := w.Start(); err != nil {
			agentlog.Warn("watcher failed to start", "error", err)
			continue
		}
		started = append(started, w)
	}
	return started
}

// handleControl applies one control line. Malformed input never ends the
// loop; only .QUIT does.
func (a *Agent) handleControl(line string) error {
	cmd, ok := protocol.ParseLine(line)
	if !ok {
		return nil
	}
	agentlog.Debug("control command", "verb", cmd.Verb)

	switch cmd.Verb {
	case protocol.VerbConfig:
		a.metrics.ControlCommand(cmd.Verb, true)
		cfg, problems := config.ParseReport(cmd.Args)
		for _, p := range problems {
			agentlog.Warn("config field fell back to default", "error", p)
		}
		old := a.store.Swap(cfg)
		agentlog.Info("configuration replaced", "config", cfg.String())
		for _, fn := range a.reconfigure {
			fn(old, cfg)
		}
		return nil

	case protocol.VerbQuit:
		a.metrics.ControlCommand(cmd.Verb, true)
		return ErrQuit

	default:
		a.metrics.ControlCommand(cmd.Verb, false)
		agentlog.Warn("unknown control command", "verb", cmd.Verb)
		return nil
	}
}

// pollOnce runs one query and emits the result if the filter accepts it
func (a *Agent) pollOnce(ctx context.Context, origin models.Origin) {
	ev, err := a.poll.Poll(ctx)
	if err != nil {
		a.metrics.PollFailed()
		agentlog.Error("poll failed", "error", err)
		return
	}
	if ev == nil {
		return
	}
	ev.Origin = origin

	if verdict := a.filter.Check(*ev, a.store.Load()); verdict != filter.Accepted {
		a.metrics.EventSuppressed(verdict.String())
		agentlog.Debug("event suppressed", "kind", ev.Kind, "reason", verdict.String())
		return
	}
	_ = a.emit(*ev)
}

func (a *Agent) emit(ev models.Event) error {
	if err := a.out.Write(ev); err != nil {
		agentlog.Error("failed to write event", "kind", ev.Kind, "error", err)
		return fmt.Errorf("failed to write event: %w", err)
	}
	a.metrics.EventEmitted(ev.Kind)
	return nil
}
