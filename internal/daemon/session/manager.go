// Package session implements the daemon's session lifecycle: creating,
// renaming, archiving and deleting chat sessions, and appending messages.
// Every mutation commits through the store so connected clients observe it
// as a versioned delta on the affected channel.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/statehub/errors"
	"github.com/grovetools/statehub/internal/daemon/store"
	"github.com/grovetools/statehub/pkg/models"
	"github.com/grovetools/statehub/pkg/protocol"
)

// Responder produces the agent's side of a conversation. SendMessage calls
// it asynchronously with the user message; implementations drive the agent,
// message and context channels through the manager.
type Responder func(m *Manager, session *models.Session, msg *models.Message)

// Manager owns session state. All session mutations flow through it; the
// store assigns delta versions and fans them out.
type Manager struct {
	store        *store.Store
	logger       *logrus.Entry
	maxSessions  int
	defaultModel string
	responder    Responder

	mu       sync.Mutex
	sessions map[string]*models.Session
}

// New creates a session manager.
func New(st *store.Store, maxSessions int, defaultModel string, logger *logrus.Entry) *Manager {
	return &Manager{
		store:        st,
		logger:       logger,
		maxSessions:  maxSessions,
		defaultModel: defaultModel,
		sessions:     make(map[string]*models.Session),
	}
}

// SetResponder installs the agent hook. Nil disables agent replies.
func (m *Manager) SetResponder(r Responder) {
	m.responder = r
}

// Create registers a new session and commits it to state.sessions.
func (m *Manager) Create(title, workingDirectory, model string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, s := range m.sessions {
		if s.Status != models.SessionDeleted {
			active++
		}
	}
	if m.maxSessions > 0 && active >= m.maxSessions {
		return nil, errors.SessionLimit(m.maxSessions)
	}

	if model == "" {
		model = m.defaultModel
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:               uuid.NewString(),
		Title:            title,
		WorkingDirectory: workingDirectory,
		Status:           models.SessionActive,
		Model:            model,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.sessions[session.ID] = session

	m.store.Commit(sessionsKey(), store.Mutation{
		Added: []protocol.Item{protocol.MustItem(session.ID, session)},
	})

	// Seed the per-session agent channel so subscribers see idle rather
	// than nothing.
	m.store.Commit(agentKey(session.ID), store.Mutation{
		Added: []protocol.Item{protocol.MustItem("agent", &models.AgentStatus{
			SessionID: session.ID,
			State:     models.AgentIdle,
			Since:     now,
		})},
	})

	// Commands the agent exposes by default; real backends replace these
	// once the session's agent announces its own set.
	commands := []protocol.Item{
		protocol.MustItem("clear", &models.SlashCommand{Name: "clear", Description: "Clear the conversation"}),
		protocol.MustItem("compact", &models.SlashCommand{Name: "compact", Description: "Compact the conversation history"}),
		protocol.MustItem("model", &models.SlashCommand{Name: "model", Description: "Switch the session model", ArgumentHint: "<model>"}),
	}
	m.store.Commit(commandsKey(session.ID), store.Mutation{Added: commands})

	m.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"title":      title,
	}).Info("Session created")
	return session, nil
}

// Get returns a session by id.
func (m *Manager) Get(sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || session.Status == models.SessionDeleted {
		return nil, errors.SessionNotFound(sessionID)
	}
	return session, nil
}

// List returns every non-deleted session.
func (m *Manager) List() []*models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Status != models.SessionDeleted {
			result = append(result, s)
		}
	}
	return result
}

// Rename changes a session's title.
func (m *Manager) Rename(sessionID, title string) error {
	return m.patch(sessionID, func(s *models.Session) map[string]interface{} {
		s.Title = title
		return map[string]interface{}{"title": title}
	})
}

// Archive marks a session archived. Its channels stay readable.
func (m *Manager) Archive(sessionID string) error {
	return m.patch(sessionID, func(s *models.Session) map[string]interface{} {
		s.Status = models.SessionArchived
		return map[string]interface{}{"status": models.SessionArchived}
	})
}

// Delete removes a session from state.sessions and drops its scoped
// channels.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok || session.Status == models.SessionDeleted {
		m.mu.Unlock()
		return errors.SessionNotFound(sessionID)
	}
	session.Status = models.SessionDeleted
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.store.Commit(sessionsKey(), store.Mutation{Removed: []string{sessionID}})
	m.store.Drop(sessionID)

	m.logger.WithField("session_id", sessionID).Info("Session deleted")
	return nil
}

// SendMessage appends a user message to the session and hands it to the
// responder. The returned message is also committed as a delta on the
// session's state.messages channel.
func (m *Manager) SendMessage(sessionID, content string) (*models.Message, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok || session.Status == models.SessionDeleted {
		m.mu.Unlock()
		return nil, errors.SessionNotFound(sessionID)
	}
	session.MessageCount++
	session.UpdatedAt = time.Now().UTC()
	count := session.MessageCount
	m.mu.Unlock()

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	m.AppendMessage(msg)

	m.store.Commit(sessionsKey(), store.Mutation{
		Updated: map[string]json.RawMessage{
			sessionID: mustJSON(map[string]interface{}{
				"message_count": count,
				"updated_at":    session.UpdatedAt,
			}),
		},
	})

	if m.responder != nil {
		go m.responder(m, session, msg)
	}
	return msg, nil
}

// AppendMessage commits a message to its session's messages channel.
func (m *Manager) AppendMessage(msg *models.Message) {
	m.store.Commit(messagesKey(msg.SessionID), store.Mutation{
		Added: []protocol.Item{protocol.MustItem(msg.ID, msg)},
	})
}

// AppendSDKMessage commits a raw agent SDK event to the session's
// sdkMessages channel.
func (m *Manager) AppendSDKMessage(sessionID string, sdk *models.SDKMessage) {
	m.store.Commit(sdkMessagesKey(sessionID), store.Mutation{
		Added: []protocol.Item{protocol.MustItem(sdk.ID, sdk)},
	})
}

// SetAgentState commits an agent state transition for a session.
func (m *Manager) SetAgentState(sessionID string, state models.AgentState) {
	m.store.Commit(agentKey(sessionID), store.Mutation{
		Updated: map[string]json.RawMessage{
			"agent": mustJSON(map[string]interface{}{
				"state": state,
				"since": time.Now().UTC(),
			}),
		},
	})
}

// SetContextUsage commits token usage for a session.
func (m *Manager) SetContextUsage(usage *models.ContextUsage) {
	key := contextKey(usage.SessionID)
	mutation := store.Mutation{}
	if _, ok := m.store.Get(key, "context"); ok {
		mutation.Updated = map[string]json.RawMessage{"context": mustJSON(usage)}
	} else {
		mutation.Added = []protocol.Item{protocol.MustItem("context", usage)}
	}
	m.store.Commit(key, mutation)
}

// patch applies an in-memory change and commits the changed fields as a
// partial update on state.sessions.
func (m *Manager) patch(sessionID string, fn func(*models.Session) map[string]interface{}) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok || session.Status == models.SessionDeleted {
		m.mu.Unlock()
		return errors.SessionNotFound(sessionID)
	}
	fields := fn(session)
	session.UpdatedAt = time.Now().UTC()
	fields["updated_at"] = session.UpdatedAt
	m.mu.Unlock()

	m.store.Commit(sessionsKey(), store.Mutation{
		Updated: map[string]json.RawMessage{sessionID: mustJSON(fields)},
	})
	return nil
}

func sessionsKey() protocol.Key {
	return protocol.NewKey(protocol.ChannelSessions, "")
}

func messagesKey(sessionID string) protocol.Key {
	return protocol.NewKey(protocol.ChannelMessages, sessionID)
}

func sdkMessagesKey(sessionID string) protocol.Key {
	return protocol.NewKey(protocol.ChannelSDKMessages, sessionID)
}

func agentKey(sessionID string) protocol.Key {
	return protocol.NewKey(protocol.ChannelAgent, sessionID)
}

func commandsKey(sessionID string) protocol.Key {
	return protocol.NewKey(protocol.ChannelCommands, sessionID)
}

func contextKey(sessionID string) protocol.Key {
	return protocol.NewKey(protocol.ChannelContext, sessionID)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
