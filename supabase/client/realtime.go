package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// ErrRealtimeClosed is returned once Disconnect has been called.
var ErrRealtimeClosed = errors.New("realtime client closed")

// RealtimeClient handles Supabase Realtime subscriptions. A dropped socket
// is redialled with exponential backoff and every channel that still has
// subscribers is joined again.
type RealtimeClient struct {
	mu       sync.Mutex
	writeMu  sync.Mutex
	url      string
	conn     *websocket.Conn
	done     chan struct{}
	stop     chan struct{}
	closed   bool
	channels map[string]*Channel
	ref      int
	nextID   uint64

	onError     func(error)
	onReconnect func()

	heartbeatInterval time.Duration
	dialTimeout       time.Duration
	reconnectMin      time.Duration
	reconnectMax      time.Duration
}

// ChangeHandler receives a decoded postgres change.
type ChangeHandler func(change Change)

// Change is one row change delivered by Realtime. Record and OldRecord are
// the raw JSON objects; OldRecord carries only the primary key unless the
// table uses REPLICA IDENTITY FULL.
type Change struct {
	Topic           string
	Type            string // INSERT, UPDATE, DELETE
	Schema          string
	Table           string
	CommitTimestamp time.Time
	Record          json.RawMessage
	OldRecord       json.RawMessage
}

// envelope is a Phoenix channel frame.
type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type handlerEntry struct {
	event string
	fn    ChangeHandler
}

// Channel is one joined topic shared by every subscription on it.
type Channel struct {
	client   *RealtimeClient
	topic    string
	config   PostgresChangesConfig
	joined   bool
	joinRef  string
	handlers map[uint64]handlerEntry
}

// Subscription is one handler registered on a channel.
type Subscription struct {
	channel *Channel
	id      uint64
	once    sync.Once
}

// NewRealtimeClient creates a new realtime client for a project URL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:               wsURL,
		channels:          make(map[string]*Channel),
		stop:              make(chan struct{}),
		heartbeatInterval: 30 * time.Second,
		dialTimeout:       10 * time.Second,
		reconnectMin:      500 * time.Millisecond,
		reconnectMax:      30 * time.Second,
	}
}

// OnError registers a callback for connection failures: a lost socket, a
// failed redial or a rejected join. The client keeps reconnecting after it
// returns.
func (r *RealtimeClient) OnError(fn func(error)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// OnReconnect registers a callback that runs after a lost socket has been
// redialled and its channels rejoined. Changes committed while the socket
// was down are not replayed.
func (r *RealtimeClient) OnReconnect(fn func()) {
	r.mu.Lock()
	r.onReconnect = fn
	r.mu.Unlock()
}

// Connected reports whether a socket is currently open.
func (r *RealtimeClient) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func (r *RealtimeClient) reportError(err error) {
	r.mu.Lock()
	fn := r.onError
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRealtimeClosed
	}
	if r.conn != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}
	if err := r.attach(conn); err != nil {
		conn.Close()
		if errors.Is(err, errAlreadyConnected) {
			return nil
		}
		return err
	}
	return nil
}

var errAlreadyConnected = errors.New("already connected")

func (r *RealtimeClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: r.dialTimeout}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// attach makes conn the live socket and starts its reader and heartbeat.
func (r *RealtimeClient) attach(conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRealtimeClosed
	}
	if r.conn != nil {
		return errAlreadyConnected
	}
	r.conn = conn
	r.done = make(chan struct{})
	go r.handleMessages(conn, r.done)
	go r.heartbeat(conn, r.done)
	return nil
}

// detach tears down conn if it is still the live socket. It reports false
// when Disconnect or an earlier failure already did.
func (r *RealtimeClient) detach(conn *websocket.Conn) bool {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return false
	}
	r.conn = nil
	close(r.done)
	for _, ch := range r.channels {
		ch.joined = false
	}
	r.mu.Unlock()
	conn.Close()
	return true
}

// Disconnect closes the WebSocket connection and stops reconnecting. The
// client cannot be reused afterwards.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.stop)
	}
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return nil
	}
	r.conn = nil
	close(r.done)
	for _, ch := range r.channels {
		ch.joined = false
	}
	r.mu.Unlock()

	r.writeMu.Lock()
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.writeMu.Unlock()
	conn.Close()
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// reconnect redials with exponential backoff until it succeeds or the client
// is closed, then rejoins every channel.
func (r *RealtimeClient) reconnect() {
	delay := r.reconnectMin
	for {
		timer := time.NewTimer(delay)
		select {
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.dialTimeout)
		conn, err := r.dial(ctx)
		cancel()
		if err != nil {
			r.reportError(fmt.Errorf("realtime reconnect: %w", err))
			delay *= 2
			if delay > r.reconnectMax {
				delay = r.reconnectMax
			}
			continue
		}
		if err := r.attach(conn); err != nil {
			conn.Close()
			return
		}
		break
	}

	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	onReconnect := r.onReconnect
	r.mu.Unlock()

	for _, ch := range channels {
		if err := ch.join(); err != nil {
			r.reportError(fmt.Errorf("rejoin %s: %w", ch.topic, err))
		}
	}
	if onReconnect != nil {
		onReconnect()
	}
}

func (r *RealtimeClient) nextRef() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

func (r *RealtimeClient) write(conn *websocket.Conn, msg any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// channel returns the channel for topic, creating it with cfg.
func (r *RealtimeClient) channel(topic string, cfg PostgresChangesConfig) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[topic]; ok {
		return ch
	}
	ch := &Channel{
		client:   r,
		topic:    topic,
		config:   cfg,
		handlers: make(map[uint64]handlerEntry),
	}
	r.channels[topic] = ch
	return ch
}

// Subscribers counts the handlers registered on topic.
func (r *RealtimeClient) Subscribers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[topic]; ok {
		return len(ch.handlers)
	}
	return 0
}

// Topic returns the channel topic.
func (c *Channel) Topic() string { return c.topic }

// join sends phx_join unless the channel is already joined on the current
// socket. The join always asks for every change type; handlers filter.
func (c *Channel) join() error {
	r := c.client
	r.mu.Lock()
	if c.joined {
		r.mu.Unlock()
		return nil
	}
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return fmt.Errorf("realtime not connected")
	}
	ref := r.nextRef()
	c.joinRef = ref
	cfg := c.config
	c.joined = true
	r.mu.Unlock()

	change := map[string]any{
		"event":  "*",
		"schema": cfg.Schema,
		"table":  cfg.Table,
	}
	if cfg.Filter != "" {
		change["filter"] = cfg.Filter
	}
	msg := map[string]any{
		"topic": c.topic,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []any{change},
			},
		},
		"ref":      ref,
		"join_ref": ref,
	}
	if err := r.write(conn, msg); err != nil {
		r.mu.Lock()
		if c.joinRef == ref {
			c.joined = false
		}
		r.mu.Unlock()
		return fmt.Errorf("send join: %w", err)
	}
	return nil
}

func (c *Channel) add(event string, fn ChangeHandler) *Subscription {
	r := c.client
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	c.handlers[id] = handlerEntry{event: strings.ToUpper(event), fn: fn}
	return &Subscription{channel: c, id: id}
}

// Topic returns the topic the subscription listens on.
func (s *Subscription) Topic() string { return s.channel.topic }

// Unsubscribe drops this handler. The channel is left, with phx_leave, only
// when its last handler goes. Calling it twice is a no-op.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() { err = s.channel.remove(s.id) })
	return err
}

func (c *Channel) remove(id uint64) error {
	r := c.client
	r.mu.Lock()
	delete(c.handlers, id)
	if len(c.handlers) > 0 {
		r.mu.Unlock()
		return nil
	}
	if r.channels[c.topic] == c {
		delete(r.channels, c.topic)
	}
	joined := c.joined
	c.joined = false
	conn := r.conn
	ref := r.nextRef()
	joinRef := c.joinRef
	r.mu.Unlock()

	if !joined || conn == nil {
		return nil
	}
	msg := map[string]any{
		"topic":    c.topic,
		"event":    "phx_leave",
		"payload":  map[string]any{},
		"ref":      ref,
		"join_ref": joinRef,
	}
	if err := r.write(conn, msg); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

// handleMessages delivers changes in arrival order on the read goroutine.
// A read failure on the live socket closes it and starts reconnecting.
func (r *RealtimeClient) handleMessages(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if r.detach(conn) {
				r.reportError(fmt.Errorf("realtime read: %w", err))
				go r.reconnect()
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		if env.Event == "phx_reply" {
			r.handleReply(env)
			continue
		}
		change, ok := ParseChange(env.Topic, env.Event, env.Payload)
		if !ok {
			continue
		}
		r.dispatch(change)
	}
}

// handleReply marks a channel unjoined when the server rejects its join.
func (r *RealtimeClient) handleReply(env envelope) {
	body := gjson.ParseBytes(env.Payload)
	if body.Get("status").String() != "error" || env.Ref == nil {
		return
	}
	r.mu.Lock()
	ch, ok := r.channels[env.Topic]
	rejected := ok && ch.joinRef == *env.Ref
	if rejected {
		ch.joined = false
	}
	r.mu.Unlock()
	if rejected {
		r.reportError(fmt.Errorf("join %s rejected: %s", env.Topic, body.Get("response").Raw))
	}
}

// ParseChange extracts a postgres change from a channel frame. Both the
// "postgres_changes" envelope and the legacy per-event frames are accepted.
func ParseChange(topic, event string, payload []byte) (Change, bool) {
	body := gjson.ParseBytes(payload)
	if event == "postgres_changes" {
		body = body.Get("data")
	} else if event != "INSERT" && event != "UPDATE" && event != "DELETE" {
		return Change{}, false
	}
	changeType := strings.ToUpper(body.Get("type").String())
	if changeType == "" {
		changeType = event
	}
	if changeType != "INSERT" && changeType != "UPDATE" && changeType != "DELETE" {
		return Change{}, false
	}

	change := Change{
		Topic:  topic,
		Type:   changeType,
		Schema: body.Get("schema").String(),
		Table:  body.Get("table").String(),
	}
	if ts := body.Get("commit_timestamp").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			change.CommitTimestamp = parsed
		}
	}
	if rec := body.Get("record"); rec.IsObject() {
		change.Record = json.RawMessage(rec.Raw)
	}
	if old := body.Get("old_record"); old.IsObject() {
		change.OldRecord = json.RawMessage(old.Raw)
	}
	return change, true
}

func (r *RealtimeClient) dispatch(change Change) {
	r.mu.Lock()
	var handlers []ChangeHandler
	if ch, ok := r.channels[change.Topic]; ok {
		for _, h := range ch.handlers {
			if h.event == "*" || h.event == change.Type {
				handlers = append(handlers, h.fn)
			}
		}
	}
	r.mu.Unlock()

	for _, handler := range handlers {
		handler(change)
	}
}

func (r *RealtimeClient) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			ref := r.nextRef()
			r.mu.Unlock()
			msg := map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     ref,
			}
			// A failed write surfaces as a read error on the same socket.
			_ = r.write(conn, msg)
		}
	}
}

// =============================================================================
// Postgres Changes Subscription
// =============================================================================

// PostgresChangesConfig configures a postgres changes subscription.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE, *
	Schema string
	Table  string
	Filter string // optional, e.g. "id=eq.1"
}

// TopicFor returns the channel topic of cfg.
func TopicFor(cfg PostgresChangesConfig) string {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	topic := fmt.Sprintf("realtime:%s:%s", schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}
	return topic
}

// SubscribeToPostgresChanges registers handler for one table, joining the
// table's channel if no other subscription holds it yet.
func (r *RealtimeClient) SubscribeToPostgresChanges(ctx context.Context, cfg PostgresChangesConfig, handler ChangeHandler) (*Subscription, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}

	sub := r.channel(TopicFor(cfg), cfg).add(cfg.Event, handler)
	if err := sub.channel.join(); err != nil {
		_ = sub.Unsubscribe(ctx)
		return nil, err
	}
	return sub, nil
}
