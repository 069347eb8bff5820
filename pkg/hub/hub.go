// Package hub implements the client side of the statehub protocol: a
// delta-synchronized publish/subscribe view of server-authoritative state.
//
// A Hub owns one reconnecting WebSocket transport, correlates calls with
// responses, and maintains a materialized local snapshot per subscribed
// channel+scope by applying versioned deltas in order. Version gaps trigger
// an automatic resync; optimistic mutations are layered over the canonical
// state as a copy-on-write overlay until confirmed or rolled back.
//
// Hubs are constructed explicitly and passed to the components that need
// them; there is no package-level instance.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/statehub/config"
	"github.com/grovetools/statehub/errors"
	"github.com/grovetools/statehub/pkg/models"
	"github.com/grovetools/statehub/pkg/protocol"
)

// Options tunes a Hub. Zero values fall back to the defaults documented in
// config.HubConfig.
type Options struct {
	URL                string
	CallTimeout        time.Duration
	OptimisticDeadline time.Duration
	SnapshotAttempts   int
	SnapshotBackoff    time.Duration
	SnapshotBackoffCap time.Duration
	Transport          TransportSettings
}

// OptionsFromConfig builds hub options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	transport := DefaultTransportSettings()
	transport.BackoffMin = cfg.Hub.ReconnectBackoff.Std()
	transport.BackoffMax = cfg.Hub.ReconnectBackoffCap.Std()
	return Options{
		URL:                cfg.Hub.ServerURL,
		CallTimeout:        cfg.Hub.CallTimeout.Std(),
		OptimisticDeadline: cfg.Hub.OptimisticDeadline.Std(),
		SnapshotAttempts:   cfg.Hub.SnapshotAttempts,
		SnapshotBackoff:    cfg.Hub.SnapshotBackoff.Std(),
		SnapshotBackoffCap: cfg.Hub.SnapshotBackoffCap.Std(),
		Transport:          transport,
	}
}

func (o *Options) setDefaults() {
	if o.CallTimeout == 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.OptimisticDeadline == 0 {
		o.OptimisticDeadline = 5 * time.Second
	}
	if o.SnapshotAttempts == 0 {
		o.SnapshotAttempts = 3
	}
	if o.SnapshotBackoff == 0 {
		o.SnapshotBackoff = 500 * time.Millisecond
	}
	if o.SnapshotBackoffCap == 0 {
		o.SnapshotBackoffCap = 5 * time.Second
	}
	if o.Transport == (TransportSettings{}) {
		o.Transport = DefaultTransportSettings()
	}
}

// SubscribeOptions scopes a subscription. An empty SessionID means the
// global scope (required for global channels, implied for them regardless).
type SubscribeOptions struct {
	SessionID string
}

// Hub is the client state hub. All channel state is guarded by one lock;
// listener callbacks run synchronously under it, which is what guarantees
// that no callback fires after its own Unsubscribe returns.
type Hub struct {
	opts      Options
	logger    *logrus.Entry
	transport *Transport
	router    *Router

	mu         sync.Mutex
	channels   map[protocol.Key]*channelState
	registry   *registry
	optimistic *optimisticState
	closed     bool
}

// New creates a hub for the given daemon URL. Connect must be called before use.
func New(opts Options, logger *logrus.Entry) *Hub {
	opts.setDefaults()
	transport := NewTransport(opts.URL, opts.Transport, logger)
	h := &Hub{
		opts:       opts,
		logger:     logger,
		transport:  transport,
		router:     NewRouter(transport, opts.CallTimeout, logger),
		channels:   make(map[protocol.Key]*channelState),
		registry:   newRegistry(),
		optimistic: newOptimisticState(),
	}
	transport.OnFrame(h.handleFrame)
	transport.OnStateChange(h.handleConnState)
	return h
}

// Connect opens the transport and blocks until the handshake completes.
func (h *Hub) Connect(ctx context.Context) error {
	return h.transport.Connect(ctx)
}

// Reconnect forces an immediate redial with backoff reset to its minimum.
func (h *Hub) Reconnect() {
	h.transport.Reconnect()
}

// ConnState returns the current transport state.
func (h *Hub) ConnState() ConnState {
	return h.transport.State()
}

// OnConnStateChange registers a listener for transport transitions, for UI
// connection indicators. Must be called before Connect.
func (h *Hub) OnConnStateChange(fn func(ConnState)) {
	h.transport.OnStateChange(fn)
}

// Close tears down the transport and cancels all optimistic deadlines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, m := range h.optimistic.markers {
		m.stopTimer()
	}
	h.optimistic = newOptimisticState()
	h.mu.Unlock()
	h.transport.Close()
}

// Call sends a request and waits for its correlated response. A timeout of
// 0 uses the hub default.
func (h *Hub) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	return h.router.Call(ctx, method, params, timeout)
}

// Subscribe registers a callback for a channel+scope and returns its
// handle. The first subscription for a channel+scope triggers a snapshot
// fetch; deltas arriving before the snapshot materializes are buffered and
// applied afterwards in version order. Later subscribers to an
// already-synced channel receive the current state immediately as a reset.
func (h *Hub) Subscribe(channel protocol.Channel, cb Callback, opts SubscribeOptions) *Subscription {
	key := protocol.NewKey(channel, opts.SessionID)
	sub := &Subscription{key: key, cb: cb, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.add(sub)

	ch, ok := h.channels[key]
	if !ok {
		ch = newChannelState(key)
		h.channels[key] = ch
	}

	switch ch.phase {
	case phaseUninitialized:
		ch.phase = phaseSnapshotPending
		ch.fetchSeq++
		go h.syncChannel(key, ch.fetchSeq, 0)
	case phaseSynced:
		// Deliver the existing materialized state to just this subscriber.
		items := ch.materialize(h.optimistic.overlayFor(key))
		cb(Notification{Kind: KindReset, Key: key, Items: items, Version: ch.version})
	}

	return sub
}

// LeaveSession drops every subscription scoped to the session and cancels
// its optimistic markers, in one pass. No callback for those subscriptions
// fires after this returns, and no orphaned rollback fires later.
func (h *Hub) LeaveSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.optimistic.cancelScope(sessionID)
	for _, key := range h.registry.keysForScope(sessionID) {
		for _, sub := range h.registry.listeners(key) {
			s := sub
			s.once.Do(func() {})
		}
		delete(h.registry.subs, key)
		h.dropChannelLocked(key)
	}
}

// SubscriptionCount returns the number of live registrations, for resource
// bookkeeping.
func (h *Hub) SubscriptionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.count()
}

// Materialized returns a copy of the current local state for a channel+scope
// (including any optimistic overlay) and its version. ok is false when the
// channel is not subscribed or not yet synced.
func (h *Hub) Materialized(channel protocol.Channel, sessionID string) (items []protocol.Item, version uint64, ok bool) {
	key := protocol.NewKey(channel, sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, exists := h.channels[key]
	if !exists || ch.phase != phaseSynced {
		return nil, 0, false
	}
	return ch.materialize(h.optimistic.overlayFor(key)), ch.version, true
}

// ApplyOptimistic layers a provisional item over the canonical snapshot and
// arms its rollback deadline. Listeners are notified immediately. A second
// optimistic mutation on the same target supersedes the first. The channel
// must be subscribed.
func (h *Hub) ApplyOptimistic(channel protocol.Channel, sessionID string, item protocol.Item) error {
	key := protocol.NewKey(channel, sessionID)

	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[key]
	if !ok {
		return errors.New(errors.ErrCodeUnknownChannel, "cannot apply optimistic update to unsubscribed channel").
			WithDetail("channel", string(channel)).
			WithDetail("scope", key.Scope)
	}

	m := h.optimistic.put(key, item.ID, item.Data)
	m.timer = time.AfterFunc(h.opts.OptimisticDeadline, func() {
		h.rollback(m)
	})

	h.notifyLocked(ch, KindUpdate, nil)
	return nil
}

// --- session convenience calls ---

// CreateSession asks the daemon to create a session. Confirmation arrives
// as a delta on state.sessions.
func (h *Hub) CreateSession(ctx context.Context, params protocol.CreateSessionParams) (*models.Session, error) {
	raw, err := h.Call(ctx, protocol.MethodSessionCreate, params, 0)
	if err != nil {
		return nil, err
	}
	var result protocol.SessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode session.create result")
	}
	return result.Session, nil
}

// DeleteSession removes a session.
func (h *Hub) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := h.Call(ctx, protocol.MethodSessionDelete, protocol.SessionRefParams{SessionID: sessionID}, 0)
	return err
}

// ArchiveSession archives a session.
func (h *Hub) ArchiveSession(ctx context.Context, sessionID string) error {
	_, err := h.Call(ctx, protocol.MethodSessionArchive, protocol.SessionRefParams{SessionID: sessionID}, 0)
	return err
}

// RenameSession applies the new title optimistically to the local sessions
// snapshot, then issues the rename call. The server's delta supersedes the
// provisional title; if no confirmation arrives before the optimistic
// deadline, the title rolls back and listeners get a rollback notification.
func (h *Hub) RenameSession(ctx context.Context, sessionID, title string) error {
	if current, _, ok := h.Materialized(protocol.ChannelSessions, ""); ok {
		for _, item := range current {
			if item.ID != sessionID {
				continue
			}
			patched, err := mergeFields(item.Data, mustJSON(map[string]string{"title": title}))
			if err != nil {
				break
			}
			_ = h.ApplyOptimistic(protocol.ChannelSessions, "", protocol.Item{ID: sessionID, Data: patched})
			break
		}
	}

	_, err := h.Call(ctx, protocol.MethodSessionRename, protocol.RenameSessionParams{SessionID: sessionID, Title: title}, 0)
	return err
}

// SendMessage appends a user message to a session.
func (h *Hub) SendMessage(ctx context.Context, sessionID, content string) (*models.Message, error) {
	raw, err := h.Call(ctx, protocol.MethodMessageSend, protocol.SendMessageParams{SessionID: sessionID, Content: content}, 0)
	if err != nil {
		return nil, err
	}
	var result protocol.MessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode message.send result")
	}
	return result.Message, nil
}

// GlobalSnapshot fetches the aggregated global state in one call.
func (h *Hub) GlobalSnapshot(ctx context.Context) (*protocol.GlobalSnapshot, error) {
	raw, err := h.Call(ctx, protocol.MethodGlobalSnapshot, nil, 0)
	if err != nil {
		return nil, err
	}
	var snap protocol.GlobalSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode global snapshot")
	}
	return &snap, nil
}

// SessionSnapshot fetches the aggregated state of one session in one call.
func (h *Hub) SessionSnapshot(ctx context.Context, sessionID string) (*protocol.SessionSnapshot, error) {
	raw, err := h.Call(ctx, protocol.MethodSessionSnapshot, protocol.SessionSnapshotParams{SessionID: sessionID}, 0)
	if err != nil {
		return nil, err
	}
	var snap protocol.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode session snapshot")
	}
	return &snap, nil
}

// --- internal wiring ---

func (h *Hub) handleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.FrameResponse:
		h.router.HandleResponse(frame)
	case protocol.FrameDelta:
		h.handleDelta(frame)
	default:
		h.logger.WithField("type", string(frame.Type)).Debug("Ignoring unexpected frame")
	}
}

func (h *Hub) handleConnState(state ConnState) {
	switch state {
	case StateDisconnected:
		h.router.RejectAll()
	case StateConnected:
		go h.resubscribeAll()
	}
}

// resubscribeAll re-registers every subscribed channel with the daemon
// after a reconnect. When the daemon can no longer replay the missed
// deltas, the channel resyncs from a fresh snapshot.
func (h *Hub) resubscribeAll() {
	h.mu.Lock()
	type entry struct {
		key     protocol.Key
		version uint64
	}
	var entries []entry
	for _, key := range h.registry.keys() {
		if ch, ok := h.channels[key]; ok {
			entries = append(entries, entry{key: key, version: ch.version})
		}
	}
	h.mu.Unlock()

	for _, e := range entries {
		params := protocol.SubscribeParams{
			Channel:      e.key.Channel,
			SessionID:    e.key.SessionID(),
			SinceVersion: e.version,
		}
		raw, err := h.router.Call(context.Background(), protocol.MethodSubscribe, params, 0)
		if err != nil {
			h.logger.WithError(err).WithField("channel", e.key.String()).Warn("Resubscribe failed")
			continue
		}
		var result protocol.SubscribeResult
		if err := json.Unmarshal(raw, &result); err != nil {
			h.logger.WithError(err).Warn("Malformed subscribe ack")
			continue
		}
		if result.Replayed {
			continue // missed deltas arrive as normal delta frames
		}

		h.mu.Lock()
		if ch, ok := h.channels[e.key]; ok && ch.phase == phaseSynced {
			ch.phase = phaseResyncPending
			ch.fetchSeq++
			go h.fetchSnapshot(e.key, ch.fetchSeq)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) handleDelta(frame *protocol.Frame) {
	if frame.Delta == nil {
		return
	}
	key := protocol.NewKey(frame.Channel, frame.SessionID)

	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[key]
	if !ok {
		h.logger.WithField("channel", key.String()).Debug("Delta for unsubscribed channel")
		return
	}

	switch ch.phase {
	case phaseSnapshotPending, phaseResyncPending:
		ch.buffer = append(ch.buffer, frame.Delta)
		return
	case phaseSynced:
	default:
		return
	}

	switch ch.classify(frame.Delta) {
	case applyStale:
		// Duplicate or stale replay; dropping it is what makes reapplication
		// idempotent.
		h.logger.WithFields(logrus.Fields{
			"channel": key.String(),
			"version": frame.Delta.Version,
			"local":   ch.version,
		}).Debug("Dropping stale delta")
	case applyOK:
		if err := ch.apply(frame.Delta); err != nil {
			h.logger.WithError(err).WithField("channel", key.String()).Error("Delta apply failed")
			return
		}
		h.optimistic.confirm(key, frame.Delta)
		h.notifyLocked(ch, KindUpdate, nil)
	case applyGap:
		h.logger.WithFields(logrus.Fields{
			"channel": key.String(),
			"version": frame.Delta.Version,
			"local":   ch.version,
		}).Warn("Version gap detected, resyncing")
		ch.phase = phaseResyncPending
		ch.fetchSeq++
		go h.fetchSnapshot(key, ch.fetchSeq)
	}
}

// syncChannel performs the initial subscribe handshake and snapshot fetch
// for a channel+scope.
func (h *Hub) syncChannel(key protocol.Key, seq uint64, sinceVersion uint64) {
	params := protocol.SubscribeParams{
		Channel:      key.Channel,
		SessionID:    key.SessionID(),
		SinceVersion: sinceVersion,
	}
	if _, err := h.router.Call(context.Background(), protocol.MethodSubscribe, params, 0); err != nil {
		h.logger.WithError(err).WithField("channel", key.String()).Debug("Subscribe call failed, fetching snapshot anyway")
	}
	h.fetchSnapshot(key, seq)
}

// fetchSnapshot retrieves the materialized channel state with a bounded
// retry budget. On success buffered deltas replay in order; on exhaustion
// listeners get a stale notification and keep the last known data.
func (h *Hub) fetchSnapshot(key protocol.Key, seq uint64) {
	params := protocol.SnapshotParams{Channel: key.Channel, SessionID: key.SessionID()}
	backoff := h.opts.SnapshotBackoff

	var lastErr error
	for attempt := 1; attempt <= h.opts.SnapshotAttempts; attempt++ {
		raw, err := h.router.Call(context.Background(), protocol.MethodSnapshot, params, 0)
		if err == nil {
			var snap protocol.Snapshot
			if err := json.Unmarshal(raw, &snap); err == nil {
				h.applySnapshot(key, seq, &snap)
				return
			}
			lastErr = errors.Wrap(err, errors.ErrCodeInternal, "malformed snapshot")
		} else {
			lastErr = err
		}

		h.logger.WithError(lastErr).WithFields(logrus.Fields{
			"channel": key.String(),
			"attempt": attempt,
		}).Debug("Snapshot fetch failed")

		if attempt < h.opts.SnapshotAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > h.opts.SnapshotBackoffCap {
				backoff = h.opts.SnapshotBackoffCap
			}
		}
	}

	// Retry budget exhausted: keep whatever state exists, mark it stale,
	// and surface the degradation to listeners.
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[key]
	if !ok || ch.fetchSeq != seq {
		return
	}
	ch.stale = true
	ch.phase = phaseSynced
	ch.buffer = nil
	h.notifyLocked(ch, KindStale, errors.SnapshotFailed(string(key.Channel), key.Scope, h.opts.SnapshotAttempts, lastErr))
}

// applySnapshot installs a fetched snapshot, replays buffered deltas in
// version order, and notifies listeners with a reset.
func (h *Hub) applySnapshot(key protocol.Key, seq uint64, snap *protocol.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[key]
	if !ok || ch.fetchSeq != seq {
		// Channel was dropped or this fetch was superseded; the result is
		// discarded without touching shared state.
		return
	}

	ch.replaceWithSnapshot(snap)

	buffered := ch.buffer
	ch.buffer = nil
	for _, d := range buffered {
		switch ch.classify(d) {
		case applyOK:
			if err := ch.apply(d); err != nil {
				h.logger.WithError(err).Error("Buffered delta apply failed")
				continue
			}
			h.optimistic.confirm(key, d)
		case applyStale:
			// Already covered by the snapshot.
		case applyGap:
			// The buffer itself has a hole; fetch again.
			ch.phase = phaseResyncPending
			ch.fetchSeq++
			go h.fetchSnapshot(key, ch.fetchSeq)
			return
		}
	}

	ch.phase = phaseSynced
	h.notifyLocked(ch, KindReset, nil)
}

// rollback fires when an optimistic deadline elapses unconfirmed.
func (h *Hub) rollback(m *marker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || !h.optimistic.clear(m) {
		return
	}
	ch, ok := h.channels[m.key]
	if !ok {
		return
	}
	h.logger.WithFields(logrus.Fields{
		"channel": m.key.String(),
		"id":      m.id,
	}).Info("Optimistic update rolled back")
	h.notifyLocked(ch, KindRollback, nil)
}

// removeSubscription is invoked via Subscription.Unsubscribe.
func (h *Hub) removeSubscription(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.remove(s)
	if len(h.registry.listeners(s.key)) == 0 {
		h.dropChannelLocked(s.key)
	}
}

// dropChannelLocked discards channel state once no listeners remain and
// tells the daemon to stop pushing deltas for it.
func (h *Hub) dropChannelLocked(key protocol.Key) {
	ch, ok := h.channels[key]
	if !ok {
		return
	}
	ch.fetchSeq++ // invalidate any in-flight fetch
	delete(h.channels, key)

	for mk, m := range h.optimistic.markers {
		if m.key == key {
			m.stopTimer()
			delete(h.optimistic.markers, mk)
			h.optimistic.dropOverlay(key, m.id)
		}
	}

	params := protocol.SubscribeParams{Channel: key.Channel, SessionID: key.SessionID()}
	go func() {
		if _, err := h.router.Call(context.Background(), protocol.MethodUnsubscribe, params, 0); err != nil {
			h.logger.WithError(err).WithField("channel", key.String()).Debug("Unsubscribe call failed")
		}
	}()
}

// notifyLocked delivers the current materialized state to every listener of
// the channel, synchronously, in subscription order. Caller holds h.mu.
func (h *Hub) notifyLocked(ch *channelState, kind NotificationKind, err error) {
	items := ch.materialize(h.optimistic.overlayFor(ch.key))
	n := Notification{Kind: kind, Key: ch.key, Items: items, Version: ch.version, Err: err}
	for _, sub := range h.registry.listeners(ch.key) {
		sub.cb(n)
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
