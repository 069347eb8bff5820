// Package server provides the HTTP and WebSocket server for the statehub
// daemon. Clients connect to /ws, issue calls, and receive versioned deltas
// for the channels they subscribed to.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	huberrors "github.com/grovetools/statehub/errors"
	"github.com/grovetools/statehub/internal/daemon/engine"
	"github.com/grovetools/statehub/internal/daemon/session"
	"github.com/grovetools/statehub/internal/daemon/store"
	"github.com/grovetools/statehub/pkg/models"
	"github.com/grovetools/statehub/pkg/protocol"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	sendBuffer   = 256
)

// Server manages the daemon's HTTP server and its WebSocket clients.
type Server struct {
	logger   *logrus.Entry
	server   *http.Server
	engine   *engine.Engine
	sessions *session.Manager
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a new Server instance.
func New(eng *engine.Engine, sessions *session.Manager, logger *logrus.Entry) *Server {
	return &Server{
		logger:   logger,
		engine:   eng,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The daemon binds to loopback; browser clients connect from
			// file:// or localhost origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Routes returns the daemon's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// ListenAndServe starts the daemon on the given TCP address. It blocks
// until the server stops or fails.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{Addr: addr, Handler: s.Routes()}

	s.logger.WithField("addr", addr).Info("Daemon listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and closes all client connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// client is one connected WebSocket peer and its subscription set.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Entry

	mu   sync.Mutex
	subs map[protocol.Key]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) subscribed(key protocol.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[key]
	return ok
}

// enqueue hands a serialized frame to the write pump without blocking. A
// client that cannot drain its buffer is dropped rather than allowed to
// stall the daemon.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Warn("Client send buffer full, dropping connection")
		c.close()
	}
}

func (c *client) enqueueFrame(frame *protocol.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal frame")
		return
	}
	c.enqueue(data)
}

// handleWS upgrades the connection and runs the client's pumps.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: s.logger.WithField("remote", conn.RemoteAddr().String()),
		subs:   make(map[protocol.Key]struct{}),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	c.logger.Debug("Client connected")

	events := s.engine.Store().Subscribe()
	go s.fanout(c, events)
	go s.writePump(c)
	s.readPump(c)

	s.engine.Store().Unsubscribe(events)
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	c.logger.Debug("Client disconnected")
}

// fanout forwards committed deltas for the client's subscribed channels.
func (s *Server) fanout(c *client, events chan store.Event) {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !c.subscribed(event.Key) {
				continue
			}
			c.enqueueFrame(&protocol.Frame{
				Type:      protocol.FrameDelta,
				Channel:   event.Key.Channel,
				SessionID: event.Key.SessionID(),
				Delta:     event.Delta,
			})
		}
	}
}

func (s *Server) writePump(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *Server) readPump(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		c.enqueuePong(appData)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.WithError(err).Debug("Malformed frame")
			continue
		}
		if frame.Type != protocol.FrameCall {
			continue
		}
		s.dispatch(c, &frame)
	}
}

func (c *client) enqueuePong(appData string) {
	// Control frames bypass the send queue; gorilla serializes concurrent
	// control writes with NextWriter internally via WriteControl.
	_ = c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
}

// dispatch routes one call frame to its handler and sends the correlated
// response. health.slow deliberately never responds.
func (s *Server) dispatch(c *client, frame *protocol.Frame) {
	logger := c.logger.WithFields(logrus.Fields{"method": frame.Method, "call_id": frame.ID})

	var result interface{}
	var err error

	switch frame.Method {
	case protocol.MethodSubscribe:
		result, err = s.handleSubscribe(c, frame.Params)
	case protocol.MethodUnsubscribe:
		result, err = s.handleUnsubscribe(c, frame.Params)
	case protocol.MethodSnapshot:
		result, err = s.handleSnapshot(frame.Params)
	case protocol.MethodGlobalSnapshot:
		result, err = s.handleGlobalSnapshot()
	case protocol.MethodSessionSnapshot:
		result, err = s.handleSessionSnapshot(frame.Params)
	case protocol.MethodSessionCreate:
		result, err = s.handleSessionCreate(frame.Params)
	case protocol.MethodSessionDelete:
		result, err = s.handleSessionRef(frame.Params, s.sessions.Delete)
	case protocol.MethodSessionArchive:
		result, err = s.handleSessionRef(frame.Params, s.sessions.Archive)
	case protocol.MethodSessionRename:
		result, err = s.handleSessionRename(frame.Params)
	case protocol.MethodMessageSend:
		result, err = s.handleMessageSend(frame.Params)
	case protocol.MethodHealthPing:
		result = protocol.OKResult{OK: true}
	case protocol.MethodHealthSlow:
		logger.Debug("Stalling on health.slow")
		return
	default:
		err = huberrors.New(huberrors.ErrCodeUnknownMethod, "unknown method: "+frame.Method)
	}

	response := &protocol.Frame{Type: protocol.FrameResponse, ID: frame.ID}
	if err != nil {
		logger.WithError(err).Debug("Call failed")
		response.Error = toCallError(err)
	} else {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			logger.WithError(marshalErr).Error("Failed to marshal result")
			response.Error = &protocol.CallError{Code: protocol.CodeInternal, Message: "failed to marshal result"}
		} else {
			response.Result = data
		}
	}
	c.enqueueFrame(response)
}

func (s *Server) handleSubscribe(c *client, params json.RawMessage) (interface{}, error) {
	var p protocol.SubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if !protocol.Known(p.Channel) {
		return nil, huberrors.UnknownChannel(string(p.Channel))
	}
	key := protocol.NewKey(p.Channel, p.SessionID)

	c.mu.Lock()
	c.subs[key] = struct{}{}
	c.mu.Unlock()

	st := s.engine.Store()
	deltas, ok := st.Replay(key, p.SinceVersion)
	if ok {
		// Replayed deltas are enqueued ahead of the subscribe ack. They
		// are contiguous from the client's reported version, so the client
		// can apply (or buffer) them before the ack arrives.
		for _, d := range deltas {
			c.enqueueFrame(&protocol.Frame{
				Type:      protocol.FrameDelta,
				Channel:   key.Channel,
				SessionID: key.SessionID(),
				Delta:     d,
			})
		}
	}

	return protocol.SubscribeResult{
		Channel:  key.Channel,
		Scope:    key.Scope,
		Version:  st.Version(key),
		Replayed: ok,
	}, nil
}

func (s *Server) handleUnsubscribe(c *client, params json.RawMessage) (interface{}, error) {
	var p protocol.SubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	key := protocol.NewKey(p.Channel, p.SessionID)

	c.mu.Lock()
	delete(c.subs, key)
	c.mu.Unlock()

	return protocol.OKResult{OK: true}, nil
}

func (s *Server) handleSnapshot(params json.RawMessage) (interface{}, error) {
	var p protocol.SnapshotParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if !protocol.Known(p.Channel) {
		return nil, huberrors.UnknownChannel(string(p.Channel))
	}
	return s.engine.Store().Snapshot(protocol.NewKey(p.Channel, p.SessionID)), nil
}

func (s *Server) handleGlobalSnapshot() (interface{}, error) {
	st := s.engine.Store()

	snap := &protocol.GlobalSnapshot{
		Sessions: s.sessions.List(),
	}

	var maxVersion uint64
	var lastUpdate int64
	for _, ch := range []protocol.Channel{
		protocol.ChannelSessions, protocol.ChannelAuth,
		protocol.ChannelConfig, protocol.ChannelHealth,
	} {
		meta := st.Snapshot(protocol.NewKey(ch, "")).Meta
		if meta.Version > maxVersion {
			maxVersion = meta.Version
		}
		if meta.LastUpdate > lastUpdate {
			lastUpdate = meta.LastUpdate
		}
	}
	snap.Meta = protocol.Meta{Channel: "global", Version: maxVersion, LastUpdate: lastUpdate}

	decodeSingle(st, protocol.ChannelAuth, "", "auth", &snap.Auth)
	decodeSingle(st, protocol.ChannelConfig, "", "config", &snap.Config)
	decodeSingle(st, protocol.ChannelHealth, "", "health", &snap.Health)
	return snap, nil
}

func (s *Server) handleSessionSnapshot(params json.RawMessage) (interface{}, error) {
	var p protocol.SessionSnapshotParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}

	sess, err := s.sessions.Get(p.SessionID)
	if err != nil {
		return nil, err
	}

	st := s.engine.Store()
	snap := &protocol.SessionSnapshot{Session: sess}

	msgSnap := st.Snapshot(protocol.NewKey(protocol.ChannelMessages, p.SessionID))
	for _, item := range msgSnap.Items {
		var msg models.Message
		if json.Unmarshal(item.Data, &msg) == nil {
			snap.Messages = append(snap.Messages, &msg)
		}
	}
	sdkSnap := st.Snapshot(protocol.NewKey(protocol.ChannelSDKMessages, p.SessionID))
	for _, item := range sdkSnap.Items {
		var sdk models.SDKMessage
		if json.Unmarshal(item.Data, &sdk) == nil {
			snap.SDKMessages = append(snap.SDKMessages, &sdk)
		}
	}
	cmdSnap := st.Snapshot(protocol.NewKey(protocol.ChannelCommands, p.SessionID))
	for _, item := range cmdSnap.Items {
		var cmd models.SlashCommand
		if json.Unmarshal(item.Data, &cmd) == nil {
			snap.Commands = append(snap.Commands, &cmd)
		}
	}

	decodeSingle(st, protocol.ChannelAgent, p.SessionID, "agent", &snap.Agent)
	decodeSingle(st, protocol.ChannelContext, p.SessionID, "context", &snap.Context)

	var maxVersion uint64
	var lastUpdate int64
	for _, meta := range []protocol.Meta{msgSnap.Meta, sdkSnap.Meta, cmdSnap.Meta} {
		if meta.Version > maxVersion {
			maxVersion = meta.Version
		}
		if meta.LastUpdate > lastUpdate {
			lastUpdate = meta.LastUpdate
		}
	}
	snap.Meta = protocol.Meta{Channel: "session", SessionID: p.SessionID, Version: maxVersion, LastUpdate: lastUpdate}
	return snap, nil
}

func (s *Server) handleSessionCreate(params json.RawMessage) (interface{}, error) {
	var p protocol.CreateSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	sess, err := s.sessions.Create(p.Title, p.WorkingDirectory, p.Model)
	if err != nil {
		return nil, err
	}
	return protocol.SessionResult{Session: sess}, nil
}

func (s *Server) handleSessionRef(params json.RawMessage, fn func(string) error) (interface{}, error) {
	var p protocol.SessionRefParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if err := fn(p.SessionID); err != nil {
		return nil, err
	}
	return protocol.OKResult{OK: true}, nil
}

func (s *Server) handleSessionRename(params json.RawMessage) (interface{}, error) {
	var p protocol.RenameSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if err := s.sessions.Rename(p.SessionID, p.Title); err != nil {
		return nil, err
	}
	return protocol.OKResult{OK: true}, nil
}

func (s *Server) handleMessageSend(params json.RawMessage) (interface{}, error) {
	var p protocol.SendMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	msg, err := s.sessions.SendMessage(p.SessionID, p.Content)
	if err != nil {
		return nil, err
	}
	return protocol.MessageResult{Message: msg}, nil
}

// decodeSingle reads a single-item channel into target (a pointer to a
// pointer), leaving it nil when the channel is empty.
func decodeSingle[T any](st *store.Store, ch protocol.Channel, sessionID, id string, target **T) {
	data, ok := st.Get(protocol.NewKey(ch, sessionID), id)
	if !ok {
		return
	}
	var v T
	if json.Unmarshal(data, &v) == nil {
		*target = &v
	}
}

func invalidParams(err error) error {
	return huberrors.Wrap(err, huberrors.ErrCodeInvalidInput, "invalid params")
}

// toCallError maps internal error codes onto wire codes.
func toCallError(err error) *protocol.CallError {
	code := protocol.CodeInternal
	switch huberrors.GetCode(err) {
	case huberrors.ErrCodeUnknownMethod:
		code = protocol.CodeUnknownMethod
	case huberrors.ErrCodeUnknownChannel:
		code = protocol.CodeUnknownChannel
	case huberrors.ErrCodeInvalidInput:
		code = protocol.CodeInvalidParams
	case huberrors.ErrCodeSessionNotFound:
		code = protocol.CodeSessionNotFound
	case huberrors.ErrCodeSessionLimit:
		code = protocol.CodeSessionLimit
	}
	if he, ok := err.(*huberrors.HubError); ok {
		return &protocol.CallError{Code: code, Message: he.Message}
	}
	return &protocol.CallError{Code: code, Message: err.Error()}
}
