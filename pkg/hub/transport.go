package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/statehub/errors"
	"github.com/grovetools/statehub/pkg/protocol"
)

// ConnState is the transport connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// TransportSettings tunes the reconnecting WebSocket connection.
type TransportSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

// DefaultTransportSettings returns the settings used when none are provided.
func DefaultTransportSettings() TransportSettings {
	return TransportSettings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		ReadTimeout:      60 * time.Second,
		BackoffMin:       250 * time.Millisecond,
		BackoffMax:       15 * time.Second,
	}
}

// Transport owns exactly one logical WebSocket connection to the daemon and
// re-establishes it automatically after loss. Frames sent while the
// connection is down are queued locally and flushed in order on reconnect.
type Transport struct {
	url      string
	settings TransportSettings
	logger   *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	queue    [][]byte
	backoff  time.Duration
	redial   chan struct{}
	wake     chan struct{}
	started  bool
	onFrame  func(*protocol.Frame)
	onState  []func(ConnState)
	writeSeq uint64 // bumped per connection so stale write pumps stop
}

// NewTransport creates a transport for the given WebSocket URL. Connect must
// be called before frames flow.
func NewTransport(url string, settings TransportSettings, logger *logrus.Entry) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		url:      url,
		settings: settings,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		backoff:  settings.BackoffMin,
		redial:   make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
	}
}

// OnFrame registers the single frame consumer. Must be set before Connect.
func (t *Transport) OnFrame(fn func(*protocol.Frame)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFrame = fn
}

// OnStateChange registers a connection-state listener. Listeners are invoked
// in registration order on every transition. Must be set before Connect.
func (t *Transport) OnStateChange(fn func(ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = append(t.onState, fn)
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect opens the connection and blocks until the initial handshake
// completes. On success it starts the background run loop that maintains
// the connection for the lifetime of the transport.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	t.setState(StateConnecting)

	conn, err := t.dial(ctx)
	if err != nil {
		t.setState(StateDisconnected)
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return errors.ConnectionFailed(t.url, err)
	}

	t.adopt(conn)
	go t.run()
	return nil
}

// Reconnect forces the connection to be re-established immediately and
// resets the backoff to its minimum.
func (t *Transport) Reconnect() {
	t.mu.Lock()
	t.backoff = t.settings.BackoffMin
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		// Closing the socket makes the read pump fail, which drives the run
		// loop into its redial path.
		_ = conn.Close()
	}
	select {
	case t.redial <- struct{}{}:
	default:
	}
}

// Send enqueues a frame for transmission. Frames always pass through the
// outbound queue so a single write pump owns the socket; gorilla forbids
// concurrent writers. When the connection is down the queue holds the frame
// until reconnect, preserving order. Send never fails on a down connection.
func (t *Transport) Send(frame *protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to marshal frame")
	}

	t.mu.Lock()
	t.queue = append(t.queue, data)
	connected := t.conn != nil && t.state == StateConnected
	queued := len(t.queue)
	t.mu.Unlock()

	if connected {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	} else {
		t.logger.WithField("queued", queued).Debug("Transport down, frame queued")
	}
	return nil
}

// Close tears the transport down permanently.
func (t *Transport) Close() {
	t.cancel()
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	t.setState(StateDisconnected)
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.settings.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// adopt installs a fresh connection and starts the per-connection pumps.
// The write pump drains whatever accumulated in the queue while the
// connection was down.
func (t *Transport) adopt(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.backoff = t.settings.BackoffMin
	t.writeSeq++
	seq := t.writeSeq
	t.mu.Unlock()

	t.setState(StateConnected)

	go t.readPump(conn)
	go t.writePump(conn, seq)

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// writePump is the sole writer for its connection: it drains the outbound
// queue and emits keepalive pings. It stops as soon as the connection it
// was started for is no longer current.
func (t *Transport) writePump(conn *websocket.Conn, seq uint64) {
	ticker := time.NewTicker(t.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			stale := t.writeSeq != seq || t.conn != conn
			t.mu.Unlock()
			if stale {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(t.settings.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-t.wake:
			if !t.drain(conn, seq) {
				return
			}
		}
	}
}

// drain writes queued frames until the queue empties. Returns false when
// the pump must stop: the connection went stale or a write failed.
func (t *Transport) drain(conn *websocket.Conn, seq uint64) bool {
	for {
		t.mu.Lock()
		if t.writeSeq != seq || t.conn != conn {
			t.mu.Unlock()
			return false
		}
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return true
		}
		data := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		conn.SetWriteDeadline(time.Now().Add(t.settings.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.logger.WithError(err).Debug("Write failed")
			t.mu.Lock()
			if t.writeSeq == seq {
				// Still this connection's era: put the frame back so it
				// flushes after reconnect.
				t.queue = append([][]byte{data}, t.queue...)
			}
			t.mu.Unlock()
			// Closing the socket drives the read pump into the redial path.
			_ = conn.Close()
			return false
		}
	}
}

// readPump delivers incoming frames until the connection dies, then kicks
// the run loop into reconnecting.
func (t *Transport) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			current := t.conn == conn
			if current {
				t.conn = nil
			}
			t.mu.Unlock()

			if current && t.ctx.Err() == nil {
				t.logger.WithError(err).Debug("Connection lost")
				t.setState(StateDisconnected)
				select {
				case t.redial <- struct{}{}:
				default:
				}
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))

		var frame protocol.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			t.logger.WithError(err).Warn("Dropping malformed frame")
			continue
		}

		t.mu.Lock()
		handler := t.onFrame
		t.mu.Unlock()
		if handler != nil {
			handler(&frame)
		}
	}
}

// run redials with capped exponential backoff whenever the connection drops.
func (t *Transport) run() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.redial:
		}

		for {
			if t.ctx.Err() != nil {
				return
			}

			t.setState(StateConnecting)
			conn, err := t.dial(t.ctx)
			if err == nil {
				t.adopt(conn)
				break
			}

			t.mu.Lock()
			wait := t.backoff
			t.backoff *= 2
			if t.backoff > t.settings.BackoffMax {
				t.backoff = t.settings.BackoffMax
			}
			t.mu.Unlock()

			t.logger.WithError(err).WithField("retry_in", wait).Debug("Reconnect failed")
			t.setState(StateDisconnected)

			select {
			case <-t.ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func (t *Transport) setState(s ConnState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	listeners := make([]func(ConnState), len(t.onState))
	copy(listeners, t.onState)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
