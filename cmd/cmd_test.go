package cmd

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorypilot/watchagent/internal/config"
	"github.com/memorypilot/watchagent/internal/ingress"
	"github.com/memorypilot/watchagent/internal/metrics"
	"github.com/memorypilot/watchagent/internal/protocol"
	"github.com/memorypilot/watchagent/internal/schedule"
	"github.com/memorypilot/watchagent/internal/watcher"
	"github.com/memorypilot/watchagent/pkg/models"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestResolveConfigPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(file, []byte("interval: 7\n"), 0644))

	cfg, err := resolveConfig(`{"interval": 3}`, file, []string{`{"interval": 5}`})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cfg.IntervalSeconds)

	cfg, err = resolveConfig("", file, []string{`{"interval": 5}`})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cfg.IntervalSeconds)

	cfg, err = resolveConfig("", file, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.IntervalSeconds)

	cfg, err = resolveConfig("", "", nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestResolveConfigBadInlineFallsBack(t *testing.T) {
	cfg, err := resolveConfig(`{"interval": 0, "address": "0.0.0.0:1"}`, "", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cfg.IntervalSeconds)
	assert.Equal(t, "0.0.0.0:1", cfg.Address)
}

func TestResolveConfigMissingFileIsFatal(t *testing.T) {
	_, err := resolveConfig("", filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestAPIAgentEndToEnd(t *testing.T) {
	store := config.NewStore(config.Parse(`{"address": "127.0.0.1:0", "api_key": "k"}`))
	stdin, feed := io.Pipe()
	var out syncBuffer

	a, srv, err := newAPIAgent(store, protocol.NewReader(stdin), &out, metrics.New())
	require.NoError(t, err)
	defer closeIngress(srv)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	req, err := http.NewRequest(http.MethodPost, "http://"+srv.Addr()+"/store",
		strings.NewReader(`{"agent":"x","kind":"note","value":{"msg":"hi"}}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer k")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"status":"ok"}`, string(body))
	assert.Equal(t, `.OUT note note {"msg":"hi"}`+"\n", out.String())

	_, err = io.WriteString(feed, ".QUIT\n")
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("api agent did not quit")
	}
}

func TestAPIAgentBindFailureIsFatal(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	store := config.NewStore(config.Parse(`{"address": "` + busy.Addr().String() + `"}`))
	_, _, err = newAPIAgent(store, protocol.NewReader(strings.NewReader("")), io.Discard, metrics.New())
	assert.Error(t, err)
}

func TestRebindIngress(t *testing.T) {
	store := config.NewStore(config.Default())
	srv, err := ingress.New(ingress.Config{Store: store})
	require.NoError(t, err)
	defer closeIngress(srv)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	first := srv.Addr()

	hook := rebindIngress(srv)
	same := config.Parse(`{"address": "127.0.0.1:0"}`)
	hook(same, same)
	assert.Equal(t, first, srv.Addr())

	hook(same, config.Parse(`{"address": "localhost:0"}`))
	moved := srv.Addr()
	assert.NotEqual(t, first, moved)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	hook(config.Parse(`{"address": "localhost:0"}`), config.Parse(`{"address": "`+busy.Addr().String()+`"}`))
	assert.Equal(t, moved, srv.Addr())
}

func TestRebindIngressRetriesAfterFailure(t *testing.T) {
	store := config.NewStore(config.Default())
	srv, err := ingress.New(ingress.Config{Store: store})
	require.NoError(t, err)
	defer closeIngress(srv)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	original := srv.Addr()
	current := config.Parse(`{"address": "` + srv.ListenAddr() + `"}`)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := config.Parse(`{"address": "` + busy.Addr().String() + `"}`)

	hook := rebindIngress(srv)
	hook(current, target)
	assert.Equal(t, original, srv.Addr())

	require.NoError(t, busy.Close())
	hook(target, target)
	assert.Equal(t, target.Address, srv.Addr())
}

func TestRebindIngressBackToBoundAddressIsNoop(t *testing.T) {
	store := config.NewStore(config.Default())
	srv, err := ingress.New(ingress.Config{Store: store})
	require.NoError(t, err)
	defer closeIngress(srv)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	bound := srv.Addr()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	target := config.Parse(`{"address": "` + busy.Addr().String() + `"}`)

	hook := rebindIngress(srv)
	hook(config.Default(), target)
	hook(target, config.Parse(`{"address": "127.0.0.1:0"}`))
	assert.Equal(t, bound, srv.Addr())
	assert.Equal(t, "127.0.0.1:0", srv.ListenAddr())
}

type stubPoll struct {
	ev models.Event
}

func (s stubPoll) Poll(context.Context) (*models.Event, error) {
	ev := s.ev
	return &ev, nil
}

type idleTicker struct{ c chan time.Time }

func (t idleTicker) C() <-chan time.Time { return t.c }
func (idleTicker) Reset(time.Duration)   {}
func (idleTicker) Stop()                 {}

func TestApplicationAgentInitialPollAndQuit(t *testing.T) {
	app := models.ApplicationEvent{T: 1, Name: "code", Title: "main.go", Width: 10, Height: 10, Text: "code main.go"}
	var out syncBuffer

	a, err := newApplicationAgent(applicationDeps{
		store:     config.NewStore(config.Default()),
		control:   protocol.NewReader(strings.NewReader(".QUIT\n")),
		out:       &out,
		poll:      stubPoll{ev: models.NewEvent(models.KindApplication, models.OriginPoll, app)},
		newTicker: func(time.Duration) schedule.Ticker { return idleTicker{c: make(chan time.Time)} },
		metrics:   metrics.New(),
	})
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t,
		`.OUT application {"t":1,"name":"code","title":"main.go","x":0,"y":0,"width":10,"height":10,"text":"code main.go"}`+"\n",
		out.String())
}

func TestRetargetWatch(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	files := watcher.NewFileNotifier(watcher.NewQueue(1), a)
	require.NoError(t, files.Start())
	defer files.Stop()

	hook := retargetWatch(files)
	old := config.Parse(`{"watch": ["` + a + `"]}`)
	hook(old, old)
	assert.Equal(t, []string{filepath.Clean(a)}, files.Paths())

	hook(old, config.Parse(`{"watch": ["`+b+`"]}`))
	assert.Equal(t, []string{filepath.Clean(b)}, files.Paths())
}
