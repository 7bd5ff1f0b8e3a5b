// Package visualization serves the bar-chart page and streams frames to it
// over WebSocket. Server implements controller.Presenter.
package visualization

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/pretty"

	"dow30tracker/internal/controller"
	"dow30tracker/internal/metrics"
	"dow30tracker/internal/table"
	"dow30tracker/internal/utils"
)

//go:embed static
var staticFiles embed.FS

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

// Messages sent to viewers.
type frameMsg struct {
	Type  string           `json:"type"`
	Frame controller.Frame `json:"frame"`
}

type updateMsg struct {
	Type   string            `json:"type"`
	Update controller.Update `json:"update"`
}

// viewerMsg is what the page sends back.
type viewerMsg struct {
	Type     string `json:"type"`
	Category string `json:"category"`
}

type client struct {
	conn *websocket.Conn
	out  chan any
	done chan struct{}
}

// Options configures a Server.
type Options struct {
	Addr        string
	DataDir     string
	ExitOnClose bool
	Store       *table.Store
	Gatherer    prometheus.Gatherer
	Logger      *utils.Logger
	Metrics     metrics.Collector
}

type Server struct {
	opts   Options
	logger *utils.Logger

	mu        sync.RWMutex
	clients   map[*client]struct{}
	lastFrame *controller.Frame
	onSelect  func(string)
	onJoin    func()

	seen       bool
	connected  chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	httpServer *http.Server
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		opts:      opts,
		logger:    opts.Logger,
		clients:   make(map[*client]struct{}),
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// OnSelect registers the callback for viewer category selections.
func (s *Server) OnSelect(fn func(category string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSelect = fn
}

// OnJoin registers the callback run when a viewer connects.
func (s *Server) OnJoin(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJoin = fn
}

// Connected is closed when the first viewer attaches.
func (s *Server) Connected() <-chan struct{} { return s.connected }

// Closed is closed once the surface is closed: with ExitOnClose, when the
// last viewer leaves, or on Shutdown.
func (s *Server) Closed() <-chan struct{} { return s.closed }

// Viewers returns the number of connected viewers.
func (s *Server) Viewers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Server) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("/", http.FileServer(http.FS(static)))
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/table", s.serveTable)
	if s.opts.DataDir != "" {
		mux.Handle("/data/", http.StripPrefix("/data/", http.FileServer(http.Dir(s.opts.DataDir))))
	}
	mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start listens on Addr and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Visualization server stopped: %v", err)
		}
	}()
	s.logger.Info("Visualization available at http://%s", ln.Addr())
	return ln.Addr(), nil
}

// Shutdown closes the surface and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.close()
	s.mu.Lock()
	for c := range s.clients {
		_ = c.conn.Close()
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) broadcast(v any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.out <- v:
		default:
			s.logger.Debug("Dropping message for slow viewer %s", c.conn.RemoteAddr())
		}
	}
}

// Redraw sends a full frame to every viewer.
func (s *Server) Redraw(f controller.Frame) error {
	if s.isClosed() {
		return controller.ErrSurfaceClosed
	}
	s.mu.Lock()
	s.lastFrame = &f
	s.mu.Unlock()
	s.broadcast(frameMsg{Type: "frame", Frame: f})
	return nil
}

// Update sends the changed positions to every viewer.
func (s *Server) Update(u controller.Update) error {
	if s.isClosed() {
		return controller.ErrSurfaceClosed
	}
	s.broadcast(updateMsg{Type: "update", Update: u})
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "surface closed", http.StatusGone)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	cl := &client{conn: conn, out: make(chan any, 256), done: make(chan struct{})}
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	n := len(s.clients)
	first := !s.seen
	s.seen = true
	last := s.lastFrame
	onJoin := s.onJoin
	s.mu.Unlock()

	s.opts.Metrics.SetViewers(n)
	s.logger.Info("Viewer connected from %s (%d watching)", r.RemoteAddr, n)
	if first {
		close(s.connected)
	}

	go s.writePump(cl)

	if last != nil {
		cl.out <- frameMsg{Type: "frame", Frame: *last}
	}
	if onJoin != nil {
		onJoin()
	}

	s.readPump(cl)

	close(cl.done)
	s.mu.Lock()
	delete(s.clients, cl)
	n = len(s.clients)
	s.mu.Unlock()

	s.opts.Metrics.SetViewers(n)
	s.logger.Info("Viewer disconnected from %s (%d watching)", r.RemoteAddr, n)
	if n == 0 && s.opts.ExitOnClose {
		s.close()
	}
}

func (s *Server) writePump(cl *client) {
	ping := time.NewTicker(45 * time.Second)
	defer ping.Stop()
	for {
		select {
		case v := <-cl.out:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteJSON(v); err != nil {
				s.logger.Debug("Write to viewer failed: %v", err)
				_ = cl.conn.Close()
				return
			}
		case <-ping.C:
			_ = cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
		case <-cl.done:
			return
		}
	}
}

func (s *Server) readPump(cl *client) {
	_ = cl.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	for {
		mt, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		if mt != websocket.TextMessage {
			continue
		}
		var msg viewerMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("Ignoring malformed viewer message: %v", err)
			continue
		}
		if strings.ToLower(msg.Type) != "select" {
			continue
		}
		s.mu.RLock()
		onSelect := s.onSelect
		s.mu.RUnlock()
		if onSelect != nil {
			onSelect(msg.Category)
		}
	}
}

type tableRow struct {
	Symbol string            `json:"symbol"`
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

func (s *Server) serveTable(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		http.NotFound(w, r)
		return
	}
	categories := s.opts.Store.Categories()
	rows := s.opts.Store.Rows()
	out := make([]tableRow, len(rows))
	for i, row := range rows {
		values := make(map[string]string, len(categories))
		for c, cat := range categories {
			values[cat.Name] = row.Values[c].String()
		}
		out[i] = tableRow{Symbol: row.Symbol, Name: row.Name, Values: values}
	}

	data, err := json.Marshal(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("pretty") != "" {
		data = pretty.Pretty(data)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
