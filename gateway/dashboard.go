package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/semtrust/message"
	"github.com/c360/semtrust/pkg/cache"
	"github.com/c360/semtrust/score"
)

// Dashboard paths
const (
	SensorsPath   = "api/sensors"
	WebSocketPath = "ws"
)

// DefaultPushInterval is how often /ws clients get a fresh view
const DefaultPushInterval = 2 * time.Second

const writeWait = 10 * time.Second

const viewKey = "sensors"

// StateSource exposes the reconciled collections; *reconciler.Reconciler satisfies it
type StateSource interface {
	Snapshot() ([]message.ReadingRecord, []message.AnnotationRecord)
}

// Dashboard serves the scored sensor view
type Dashboard struct {
	source   StateSource
	weights  score.Weights
	interval time.Duration
	views    *cache.TTL[[]score.SensorView]
	upgrader websocket.Upgrader
	logger   *slog.Logger

	clients  atomic.Int64
	mu       sync.Mutex // orders wg.Add against Close
	closed   bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// DashboardOption configures a Dashboard
type DashboardOption func(*Dashboard)

// WithPushInterval sets the websocket push interval
func WithPushInterval(d time.Duration) DashboardOption {
	return func(db *Dashboard) {
		if d > 0 {
			db.interval = d
		}
	}
}

// WithWeights overrides the per-kind score weights
func WithWeights(w score.Weights) DashboardOption {
	return func(db *Dashboard) {
		db.weights = w
	}
}

// WithViewCache shares one scored view between requests and pushes until
// it expires
func WithViewCache(views *cache.TTL[[]score.SensorView]) DashboardOption {
	return func(db *Dashboard) {
		db.views = views
	}
}

// WithDashboardLogger sets the logger
func WithDashboardLogger(logger *slog.Logger) DashboardOption {
	return func(db *Dashboard) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// NewDashboard returns a dashboard reading from source
func NewDashboard(source StateSource, opts ...DashboardOption) *Dashboard {
	db := &Dashboard{
		source:   source,
		weights:  score.DefaultWeights(),
		interval: DefaultPushInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:   slog.Default(),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.logger = db.logger.With("component", "dashboard")
	return db
}

// RegisterHTTPHandlers implements HTTPHandler
func (d *Dashboard) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = normalizePrefix(prefix)
	mux.HandleFunc(prefix+SensorsPath, d.handleSensors)
	mux.HandleFunc(prefix+WebSocketPath, d.handleWebSocket)
}

// View scores the current state, or returns the cached view
func (d *Dashboard) View() []score.SensorView {
	if d.views != nil {
		return d.views.Load(viewKey, d.buildView)
	}
	return d.buildView()
}

func (d *Dashboard) buildView() []score.SensorView {
	readings, annotations := d.source.Snapshot()
	return d.weights.BuildView(readings, annotations)
}

// Clients is the number of connected websocket clients
func (d *Dashboard) Clients() int {
	return int(d.clients.Load())
}

// Close disconnects every websocket client and waits for them
func (d *Dashboard) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.shutdown)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// track registers one client goroutine unless the dashboard is closed
func (d *Dashboard) track() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

func (d *Dashboard) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed", d.logger)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, d.View(), d.logger)
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !d.track() {
		writeError(w, http.StatusServiceUnavailable, "dashboard closed", d.logger)
		return
	}

	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		d.logger.Debug("websocket upgrade failed", "error", err)
		d.wg.Done()
		return
	}

	d.clients.Add(1)
	d.logger.Debug("websocket client connected", "remote", r.RemoteAddr)
	go d.serveClient(conn)
}

func (d *Dashboard) serveClient(conn *websocket.Conn) {
	defer d.wg.Done()
	defer d.clients.Add(-1)
	defer conn.Close()

	// The client never sends anything useful; reading surfaces the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.push(conn); err != nil {
			d.logger.Debug("websocket client dropped", "error", err)
			return
		}
		select {
		case <-gone:
			return
		case <-d.shutdown:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case <-ticker.C:
		}
	}
}

func (d *Dashboard) push(conn *websocket.Conn) error {
	data, err := json.Marshal(d.View())
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
