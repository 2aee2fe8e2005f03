// Package transport is the client side of the sync protocol: one logical
// connection that survives a volatile underlying transport. It manages
// connect/retry with exponential backoff, heartbeat-based latency and
// quality estimation, and FIFO queuing of messages sent while offline.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"boardsync/internal/wire"
)

// ErrNormalClosure marks a read failure caused by a clean, normal-code
// close. It ends the connection without scheduling a retry.
var ErrNormalClosure = errors.New("normal closure")

// State of the logical connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// QualityLevel is advisory telemetry. It never forces a reconnect by
// itself.
type QualityLevel string

const (
	QualityPoor     QualityLevel = "poor"
	QualityDegraded QualityLevel = "degraded"
)

// StateChange describes a transition, including the retry attempt and delay
// when entering Reconnecting.
type StateChange struct {
	State   State
	Attempt int
	Delay   time.Duration
}

// QualityReport summarizes heartbeat health.
type QualityReport struct {
	State     State
	Latency   time.Duration
	PongRatio float64
	Healthy   bool
}

// Conn is one underlying connection. WriteMessage must be safe for
// concurrent use; ReadMessage returns ErrNormalClosure when the peer closed
// cleanly with a normal code.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	CloseNormal(reason string) error
	Close() error
}

// Dialer opens underlying connections. Swapped for a scripted fake in
// tests.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const (
	defaultInitialReconnectDelay = time.Second
	defaultMaxReconnectDelay     = 30 * time.Second
	defaultPingInterval          = 1500 * time.Millisecond

	pongStaleAfter   = 5 * time.Second
	poorRatio        = 0.5
	minPingsForPoor  = 3
	minPingsForStale = 2

	healthyRatio      = 0.7
	healthyMaxLatency = 500 * time.Millisecond
)

// Config wires the transport's collaborators; zero values get defaults.
type Config struct {
	Dialer                Dialer
	Clock                 clock.Clock
	Logger                *zap.Logger
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	PingInterval          time.Duration
}

// Transport owns one logical connection to the service.
type Transport struct {
	url    string
	dialer Dialer
	clk    clock.Clock
	logger *zap.Logger

	initialDelay time.Duration
	maxDelay     time.Duration
	pingInterval time.Duration

	mu             sync.Mutex
	state          State
	conn           Conn
	closing        bool
	gen            int
	attempts       int
	queue          [][]byte
	reconnectTimer *clock.Timer
	stopPing       chan struct{}

	pingsSent     int
	pongsReceived int
	lastPingAt    time.Time
	lastPongAt    time.Time
	latency       time.Duration
	hasLatency    bool

	handlers  map[wire.Kind][]func(wire.Message)
	onMessage []func(wire.Message)
	onState   []func(StateChange)
	onQuality []func(QualityLevel, QualityReport)
	onLatency []func(time.Duration)
}

// New returns a disconnected transport for the given URL.
func New(url string, cfg Config) *Transport {
	if cfg.Dialer == nil {
		cfg.Dialer = &WebSocketDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.InitialReconnectDelay == 0 {
		cfg.InitialReconnectDelay = defaultInitialReconnectDelay
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Transport{
		url:          url,
		dialer:       cfg.Dialer,
		clk:          cfg.Clock,
		logger:       cfg.Logger,
		initialDelay: cfg.InitialReconnectDelay,
		maxDelay:     cfg.MaxReconnectDelay,
		pingInterval: cfg.PingInterval,
		handlers:     make(map[wire.Kind][]func(wire.Message)),
	}
}

// On registers a handler for one message kind.
func (t *Transport) On(kind wire.Kind, fn func(wire.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = append(t.handlers[kind], fn)
}

// OnMessage registers a handler for every inbound message.
func (t *Transport) OnMessage(fn func(wire.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = append(t.onMessage, fn)
}

// OnStateChange registers a transition observer.
func (t *Transport) OnStateChange(fn func(StateChange)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = append(t.onState, fn)
}

// OnQuality registers an observer for poor/degraded classifications.
func (t *Transport) OnQuality(fn func(QualityLevel, QualityReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuality = append(t.onQuality, fn)
}

// OnLatency registers an observer for heartbeat latency samples.
func (t *Transport) OnLatency(fn func(time.Duration)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLatency = append(t.onLatency, fn)
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect starts dialing. It is a no-op while already connecting or
// connected.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.state == Connecting || t.state == Connected {
		t.mu.Unlock()
		return
	}
	t.cancelReconnectLocked()
	t.closing = false
	t.state = Connecting
	t.mu.Unlock()

	t.emitState(StateChange{State: Connecting})
	go t.dial()
}

// Disconnect closes intentionally: pending reconnect and heartbeat timers
// are cancelled first so no stale timer can resurrect the connection, then
// the peer gets a clean, normal-code close. No retry is scheduled.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closing = true
	t.gen++
	t.cancelReconnectLocked()
	t.stopPingLocked()
	conn := t.conn
	t.conn = nil
	t.state = Disconnected
	t.mu.Unlock()

	if conn != nil {
		if err := conn.CloseNormal("client disconnect"); err != nil {
			t.logger.Debug("close failed", zap.Error(err))
		}
	}
	t.emitState(StateChange{State: Disconnected})
}

// Send delivers a message, or queues it in FIFO order while not connected.
// The queue is unbounded; it drains on the next successful connection.
func (t *Transport) Send(m wire.Message) {
	data, err := wire.Encode(m)
	if err != nil {
		t.logger.Error("encode failed", zap.Error(err))
		return
	}
	t.mu.Lock()
	if t.state != Connected || t.conn == nil {
		t.queue = append(t.queue, data)
		t.mu.Unlock()
		return
	}
	conn := t.conn
	t.mu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		t.logger.Debug("write failed", zap.Error(err))
	}
}

// Quality reports current heartbeat health.
func (t *Transport) Quality() QualityReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.qualityLocked()
}

func (t *Transport) qualityLocked() QualityReport {
	ratio := 1.0
	if t.pingsSent > 0 {
		ratio = float64(t.pongsReceived) / float64(t.pingsSent)
	}
	healthy := t.state == Connected && ratio > healthyRatio &&
		(!t.hasLatency || t.latency < healthyMaxLatency)
	return QualityReport{
		State:     t.state,
		Latency:   t.latency,
		PongRatio: ratio,
		Healthy:   healthy,
	}
}

func (t *Transport) dial() {
	conn, err := t.dialer.Dial(context.Background(), t.url)
	if err != nil {
		t.mu.Lock()
		if t.closing {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		t.logger.Debug("dial failed", zap.String("url", t.url), zap.Error(err))
		t.scheduleReconnect()
		return
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		conn.CloseNormal("shutdown")
		return
	}
	t.conn = conn
	t.state = Connected
	t.attempts = 0
	queued := t.queue
	t.queue = nil
	t.pingsSent = 0
	t.pongsReceived = 0
	t.lastPongAt = time.Time{}
	stop := make(chan struct{})
	t.stopPing = stop
	t.mu.Unlock()

	t.emitState(StateChange{State: Connected})
	for _, data := range queued {
		if err := conn.WriteMessage(data); err != nil {
			t.logger.Debug("flush write failed", zap.Error(err))
		}
	}
	go t.heartbeat(conn, stop)
	go t.readLoop(conn)
}

func (t *Transport) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(conn, err)
			return
		}
		msg, derr := wire.Decode(data)
		if derr != nil {
			continue
		}
		if _, ok := msg.(*wire.Pong); ok {
			t.recordPong()
		}
		t.dispatch(msg)
	}
}

func (t *Transport) handleClose(conn Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		// A stale read loop from a connection we already replaced.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.stopPingLocked()
	intentional := t.closing
	t.mu.Unlock()

	if intentional {
		return
	}
	if errors.Is(err, ErrNormalClosure) {
		t.mu.Lock()
		t.state = Disconnected
		t.mu.Unlock()
		t.emitState(StateChange{State: Disconnected})
		return
	}
	t.logger.Debug("connection lost", zap.Error(err))
	t.scheduleReconnect()
}

// scheduleReconnect arms a single retry timer with exponentially increasing
// delay. Any prior pending timer is cancelled first: at most one may be
// pending at a time.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return
	}
	t.cancelReconnectLocked()
	delay := backoffDelay(t.initialDelay, t.maxDelay, t.attempts)
	t.attempts++
	attempt := t.attempts
	t.state = Reconnecting
	gen := t.gen
	t.reconnectTimer = t.clk.AfterFunc(delay, func() { t.retry(gen) })
	t.mu.Unlock()

	t.emitState(StateChange{State: Reconnecting, Attempt: attempt, Delay: delay})
}

func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		if delay >= max {
			break
		}
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

// retry is the reconnect timer callback. Disconnect bumps the generation, so
// a timer that fired just before it could be cancelled finds itself stale
// here instead of redialing after an intentional shutdown.
func (t *Transport) retry(gen int) {
	t.mu.Lock()
	stale := t.closing || gen != t.gen
	t.mu.Unlock()
	if stale {
		return
	}
	t.Connect()
}

func (t *Transport) cancelReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

func (t *Transport) stopPingLocked() {
	if t.stopPing != nil {
		close(t.stopPing)
		t.stopPing = nil
	}
}

func (t *Transport) heartbeat(conn Conn, stop chan struct{}) {
	ticker := t.clk.Ticker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.state != Connected || t.conn != conn {
				t.mu.Unlock()
				return
			}
			t.pingsSent++
			t.lastPingAt = t.clk.Now()
			at := t.clk.Now().UnixMilli()
			t.mu.Unlock()

			data, err := wire.Encode(&wire.Ping{Type: wire.KindPing, At: at})
			if err == nil {
				if werr := conn.WriteMessage(data); werr != nil {
					t.logger.Debug("ping write failed", zap.Error(werr))
				}
			}
			t.checkQuality()
		}
	}
}

func (t *Transport) recordPong() {
	t.mu.Lock()
	t.pongsReceived++
	now := t.clk.Now()
	t.lastPongAt = now
	var sample time.Duration
	emit := false
	if !t.lastPingAt.IsZero() {
		t.latency = now.Sub(t.lastPingAt)
		t.hasLatency = true
		sample = t.latency
		emit = true
	}
	fns := append([]func(time.Duration){}, t.onLatency...)
	t.mu.Unlock()

	if emit {
		for _, fn := range fns {
			fn(sample)
		}
	}
}

func (t *Transport) checkQuality() {
	t.mu.Lock()
	report := t.qualityLocked()
	now := t.clk.Now()
	var level QualityLevel
	switch {
	case report.PongRatio < poorRatio && t.pingsSent > minPingsForPoor:
		level = QualityPoor
	case !t.lastPongAt.IsZero() && now.Sub(t.lastPongAt) > pongStaleAfter && t.pingsSent > minPingsForStale:
		level = QualityDegraded
	}
	fns := append([]func(QualityLevel, QualityReport){}, t.onQuality...)
	t.mu.Unlock()

	if level == "" {
		return
	}
	for _, fn := range fns {
		fn(level, report)
	}
}

func (t *Transport) dispatch(msg wire.Message) {
	t.mu.Lock()
	all := append([]func(wire.Message){}, t.onMessage...)
	kind := append([]func(wire.Message){}, t.handlers[msg.Kind()]...)
	t.mu.Unlock()

	for _, fn := range all {
		fn(msg)
	}
	for _, fn := range kind {
		fn(msg)
	}
}

func (t *Transport) emitState(sc StateChange) {
	t.mu.Lock()
	fns := append([]func(StateChange){}, t.onState...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(sc)
	}
}
