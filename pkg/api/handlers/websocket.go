package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goclaw/clusterctl/pkg/api/events"
	"github.com/goclaw/clusterctl/pkg/logger"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 32
	eventSourceBuffer       = 256
	maxControlFrameSize     = 1 << 16
)

// WebSocketConfig configures the event stream endpoint.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// EventMessage is the frame sent for every cluster event.
type EventMessage = events.Event

// EventSource is the stream of cluster events fanned out to watchers.
type EventSource interface {
	Subscribe(buffer int) chan events.Event
	Unsubscribe(ch chan events.Event)
}

// controlFrame is sent by watchers to change what they receive, and echoed
// back with type "subscriptions" listing the resulting filter:
//
//	{"type":"subscribe","events":["node.dead","log"]}
type controlFrame struct {
	Type   string   `json:"type"`
	Events []string `json:"events"`
}

// watcher is one connected event stream client. Its filter holds event
// families; an empty filter receives everything.
type watcher struct {
	conn *websocket.Conn
	out  chan []byte

	mu     sync.RWMutex
	filter map[string]struct{}

	closeOnce   sync.Once
	closeReason int
}

func newWatcher(conn *websocket.Conn) *watcher {
	return &watcher{
		conn:        conn,
		out:         make(chan []byte, defaultSendBuffer),
		filter:      make(map[string]struct{}),
		closeReason: websocket.CloseNormalClosure,
	}
}

// stop ends the watcher's write loop, which sends a close frame with the
// given code.
func (w *watcher) stop(code int) {
	w.closeOnce.Do(func() {
		w.closeReason = code
		close(w.out)
	})
}

func (w *watcher) apply(frame controlFrame) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range frame.Events {
		t = normalizeEventType(t)
		if t == "" {
			continue
		}
		switch frame.Type {
		case "subscribe":
			w.filter[t] = struct{}{}
		case "unsubscribe":
			delete(w.filter, t)
		}
	}
	current := make([]string, 0, len(w.filter))
	for t := range w.filter {
		current = append(current, t)
	}
	sort.Strings(current)
	return current
}

func (w *watcher) wants(eventType string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return events.Match(w.filter, eventType)
}

func normalizeEventType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// hub tracks connected watchers up to a fixed limit.
type hub struct {
	mu       sync.RWMutex
	watchers map[*watcher]struct{}
	limit    int
}

func newHub(limit int) *hub {
	if limit <= 0 {
		limit = defaultWSMaxConnections
	}
	return &hub{watchers: make(map[*watcher]struct{}), limit: limit}
}

func (h *hub) full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers) >= h.limit
}

// add registers w unless the hub is full.
func (h *hub) add(w *watcher) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.watchers) >= h.limit {
		return false
	}
	h.watchers[w] = struct{}{}
	return true
}

// remove unregisters w and stops it with code.
func (h *hub) remove(w *watcher, code int) {
	h.mu.Lock()
	_, ok := h.watchers[w]
	delete(h.watchers, w)
	h.mu.Unlock()
	if ok {
		w.stop(code)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// publish queues frame for every watcher whose filter matches eventType.
// A watcher that cannot keep up is disconnected rather than allowed to
// stall the others.
func (h *hub) publish(eventType string, frame []byte) {
	var lagging []*watcher
	h.mu.RLock()
	for w := range h.watchers {
		if !w.wants(eventType) {
			continue
		}
		select {
		case w.out <- frame:
		default:
			lagging = append(lagging, w)
		}
	}
	h.mu.RUnlock()

	for _, w := range lagging {
		h.remove(w, websocket.ClosePolicyViolation)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	all := h.watchers
	h.watchers = make(map[*watcher]struct{})
	h.mu.Unlock()
	for w := range all {
		w.stop(websocket.CloseGoingAway)
	}
}

// WebSocketHandler serves /api/v1/events, streaming cluster events such as
// node.dead and log.trimmed to operators.
type WebSocketHandler struct {
	log          logger.Logger
	hub          *hub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler creates the event stream handler.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if log == nil {
		log = logger.Global()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}

	origins := append([]string(nil), cfg.AllowedOrigins...)
	return &WebSocketHandler{
		log:          log.With("component", "event_stream"),
		hub:          newHub(cfg.MaxConnections),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: defaultWriteTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(r, origins) },
		},
	}
}

// Run forwards events from source to watchers until ctx is done or source
// closes the subscription.
func (h *WebSocketHandler) Run(ctx context.Context, source EventSource) {
	ch := source.Subscribe(eventSourceBuffer)
	defer source.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := h.Broadcast(ev); err != nil {
				h.log.Warn("dropping unencodable event", "type", ev.Type, "error", err)
			}
		}
	}
}

// Broadcast sends event to every watcher subscribed to its family.
func (h *WebSocketHandler) Broadcast(event EventMessage) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.hub.publish(normalizeEventType(event.Type), frame)
	return nil
}

// ServeHTTP upgrades the request and streams events until the watcher
// disconnects. The optional "types" query parameter holds the initial
// comma-separated subscriptions.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if h.hub.full() {
		http.Error(w, "websocket connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	wt := newWatcher(conn)
	if types := r.URL.Query().Get("types"); types != "" {
		wt.apply(controlFrame{Type: "subscribe", Events: strings.Split(types, ",")})
	}
	if !h.hub.add(wt) {
		// Lost the race for the last slot after the upgrade.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many watchers"),
			time.Now().Add(h.writeTimeout))
		_ = conn.Close()
		return
	}

	go h.writeLoop(wt)
	h.readLoop(wt)
}

// readLoop handles control frames and pongs. It owns the watcher's
// registration: when the peer goes away the watcher is removed.
func (h *WebSocketHandler) readLoop(w *watcher) {
	defer h.hub.remove(w, websocket.CloseNormalClosure)

	deadline := h.pingInterval + h.pongTimeout
	w.conn.SetReadLimit(maxControlFrameSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(deadline))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("event stream read failed", "error", err)
			}
			return
		}

		var frame controlFrame
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		frame.Type = normalizeEventType(frame.Type)
		if frame.Type != "subscribe" && frame.Type != "unsubscribe" {
			continue
		}
		ack, err := json.Marshal(controlFrame{Type: "subscriptions", Events: w.apply(frame)})
		if err != nil {
			continue
		}
		select {
		case w.out <- ack:
		default:
		}
	}
}

// writeLoop is the connection's only writer. It closes the connection when
// the watcher is stopped.
func (h *WebSocketHandler) writeLoop(w *watcher) {
	ping := time.NewTicker(h.pingInterval)
	defer func() {
		ping.Stop()
		_ = w.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-w.out:
			if !ok {
				_ = w.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(w.closeReason, ""),
					time.Now().Add(h.writeTimeout))
				return
			}
			_ = w.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.hub.remove(w, websocket.CloseAbnormalClosure)
				return
			}
		case <-ping.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				h.hub.remove(w, websocket.CloseAbnormalClosure)
				return
			}
		}
	}
}

// Connections returns the number of connected watchers.
func (h *WebSocketHandler) Connections() int {
	return h.hub.count()
}

// Close disconnects every watcher.
func (h *WebSocketHandler) Close() {
	h.hub.closeAll()
}

// originAllowed accepts requests without an Origin, same-host origins and
// the configured ones.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSpace(a), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
