package visualization

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dow30tracker/internal/controller"
	"dow30tracker/internal/metrics"
	"dow30tracker/internal/table"
	"dow30tracker/models"
)

type envelope struct {
	Type   string            `json:"type"`
	Frame  controller.Frame  `json:"frame"`
	Update controller.Update `json:"update"`
}

func newStore(t *testing.T) *table.Store {
	t.Helper()
	cats := []models.Category{{Name: models.CategoryPrice, Short: "Price", Kind: models.KindNumber}}
	s, err := table.NewStore(cats, []models.Entity{
		{Symbol: "AAA", Name: "Alpha", Values: []models.Value{models.NumberFromFloat(50, 2)}},
		{Symbol: "BBB", Name: "Beta", Values: []models.Value{models.Missing()}},
	})
	require.NoError(t, err)
	return s
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	s := NewServer(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func waitViewers(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Viewers() == n }, 2*time.Second, 5*time.Millisecond)
}

type viewerGauge struct {
	metrics.Nop
	mu sync.Mutex
	n  []int
}

func (g *viewerGauge) SetViewers(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = append(g.n, n)
}

func TestServer_BroadcastsFramesAndUpdates(t *testing.T) {
	gauge := &viewerGauge{}
	s, ts := newTestServer(t, Options{Metrics: gauge})
	joined := make(chan struct{}, 1)
	s.OnJoin(func() { joined <- struct{}{} })

	conn := dial(t, ts)
	defer conn.Close()

	select {
	case <-s.Connected():
	case <-time.After(2 * time.Second):
		t.Fatal("first viewer was not reported")
	}
	<-joined
	waitViewers(t, s, 1)

	frame := controller.Frame{
		Category:   models.CategoryPrice,
		Direction:  "ascending",
		Categories: []string{models.CategoryPrice},
		Bars:       []controller.Bar{{Symbol: "AAA", Value: 50, Label: "50.00"}},
	}
	require.NoError(t, s.Redraw(frame))
	env := readEnvelope(t, conn)
	assert.Equal(t, "frame", env.Type)
	assert.Equal(t, "AAA", env.Frame.Bars[0].Symbol)

	require.NoError(t, s.Update(controller.Update{
		Category: models.CategoryPrice,
		Bars:     []controller.IndexedBar{{Index: 1, Bar: controller.Bar{Symbol: "BBB", Highlight: true}}},
	}))
	env = readEnvelope(t, conn)
	assert.Equal(t, "update", env.Type)
	require.Len(t, env.Update.Bars, 1)
	assert.Equal(t, 1, env.Update.Bars[0].Index)
	assert.True(t, env.Update.Bars[0].Highlight)

	gauge.mu.Lock()
	assert.Contains(t, gauge.n, 1)
	gauge.mu.Unlock()
}

func TestServer_LateViewerGetsLastFrame(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	require.NoError(t, s.Redraw(controller.Frame{Category: "Stock Price"}))

	conn := dial(t, ts)
	defer conn.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, "frame", env.Type)
	assert.Equal(t, "Stock Price", env.Frame.Category)
}

func TestServer_SelectMessages(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	got := make(chan string, 4)
	s.OnSelect(func(c string) { got <- c })

	conn := dial(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.WriteJSON(viewerMsg{Type: "select", Category: "Market Cap"}))

	select {
	case c := <-got:
		assert.Equal(t, "Market Cap", c)
	case <-time.After(2 * time.Second):
		t.Fatal("selection not delivered")
	}
	assert.Empty(t, got)
}

func TestServer_ClosesWhenLastViewerLeaves(t *testing.T) {
	s, ts := newTestServer(t, Options{ExitOnClose: true})

	a := dial(t, ts)
	b := dial(t, ts)
	waitViewers(t, s, 2)

	require.NoError(t, a.Close())
	waitViewers(t, s, 1)
	select {
	case <-s.Closed():
		t.Fatal("closed with a viewer still attached")
	default:
	}

	require.NoError(t, b.Close())
	select {
	case <-s.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("surface did not close")
	}
	assert.ErrorIs(t, s.Redraw(controller.Frame{}), controller.ErrSurfaceClosed)
	assert.ErrorIs(t, s.Update(controller.Update{}), controller.ErrSurfaceClosed)
}

func TestServer_StaysOpenWithoutExitOnClose(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	waitViewers(t, s, 1)
	require.NoError(t, conn.Close())
	waitViewers(t, s, 0)

	assert.NoError(t, s.Redraw(controller.Frame{}))
}

func TestServer_HTTPRoutes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dow30.csv"), []byte("Symbol\nAAA\n"), 0644))

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheus(reg, "")
	require.NoError(t, err)
	m.SetViewers(3)

	_, ts := newTestServer(t, Options{Store: newStore(t), DataDir: dir, Gatherer: reg})

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<title>Dow 30 Tracker</title>")

	code, body = get("/table")
	assert.Equal(t, http.StatusOK, code)
	var rows []tableRow
	require.NoError(t, json.Unmarshal([]byte(body), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "AAA", rows[0].Symbol)
	assert.Equal(t, "50", rows[0].Values[models.CategoryPrice])
	assert.Equal(t, "-", rows[1].Values[models.CategoryPrice])

	_, body = get("/table?pretty=1")
	assert.Contains(t, body, "\n  {")

	code, body = get("/data/dow30.csv")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "AAA")

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "dow30_visualization_viewers 3")
}

func TestServer_ShutdownRejectsViewers(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	require.NoError(t, s.Shutdown(t.Context()))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}
