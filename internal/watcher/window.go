package watcher

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/memorypilot/watchagent/pkg/models"
)

const (
	// MaxTitleLen bounds window titles, counted in characters
	MaxTitleLen = 250
	// DefaultQueryTimeout bounds one active-window query
	DefaultQueryTimeout = 2 * time.Second
)

// Runner executes an external command and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// WindowSource queries the active X11 window through xdotool. The process
// name comes from /proc, matching what other platforms report as the
// application name.
type WindowSource struct {
	run      Runner
	readFile func(string) ([]byte, error)
	timeout  time.Duration
	now      func() time.Time
}

// NewWindowSource creates a window source using the real xdotool and /proc
func NewWindowSource() *WindowSource {
	return &WindowSource{
		run:      execRunner,
		readFile: os.ReadFile,
		timeout:  DefaultQueryTimeout,
		now:      time.Now,
	}
}

// Poll implements PollSource
func (w *WindowSource) Poll(ctx context.Context) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	id, err := w.output(ctx, "getactivewindow")
	if err != nil {
		return nil, fmt.Errorf("failed to get active window: %w", err)
	}
	if id == "" {
		return nil, fmt.Errorf("failed to get active window: no window id")
	}

	title, err := w.output(ctx, "getwindowname", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get window name: %w", err)
	}

	geometry, err := w.output(ctx, "getwindowgeometry", "--shell", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}
	x, y, width, height, err := parseGeometry(geometry)
	if err != nil {
		return nil, err
	}

	pid, err := w.output(ctx, "getwindowpid", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get window pid: %w", err)
	}
	comm, err := w.readFile("/proc/" + pid + "/comm")
	if err != nil {
		return nil, fmt.Errorf("failed to read process name: %w", err)
	}

	app, ok := snapshot(w.now(), strings.TrimSpace(string(comm)), title, x, y, width, height)
	if !ok {
		return nil, nil
	}
	ev := models.NewEvent(models.KindApplication, models.OriginPoll, app)
	ev.Timestamp = app.T
	return &ev, nil
}

func (w *WindowSource) output(ctx context.Context, args ...string) (string, error) {
	out, err := w.run(ctx, "xdotool", args...)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}

// snapshot sanitizes raw window data. An empty application name yields no
// snapshot.
func snapshot(now time.Time, name, title string, x, y, width, height int64) (models.ApplicationEvent, bool) {
	if name == "" {
		return models.ApplicationEvent{}, false
	}
	if runes := []rune(title); len(runes) > MaxTitleLen {
		title = string(runes[:MaxTitleLen])
	}
	return models.ApplicationEvent{
		T:      now.UnixMilli(),
		Name:   name,
		Title:  title,
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
		Text:   strings.TrimSpace(name + " " + title),
	}, true
}

// parseGeometry reads the KEY=VALUE lines printed by `getwindowgeometry --shell`
func parseGeometry(out string) (x, y, width, height int64, err error) {
	values := map[string]int64{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, val, found := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !found {
			continue
		}
		n, perr := strconv.ParseInt(val, 10, 64)
		if perr != nil {
			continue
		}
		values[key] = n
	}
	for _, key := range []string{"X", "Y", "WIDTH", "HEIGHT"} {
		if _, ok := values[key]; !ok {
			return 0, 0, 0, 0, fmt.Errorf("failed to parse window geometry: missing %s", key)
		}
	}
	return values["X"], values["Y"], values["WIDTH"], values["HEIGHT"], nil
}
