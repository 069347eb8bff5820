package session

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/statehub/errors"
	"github.com/grovetools/statehub/internal/daemon/store"
	"github.com/grovetools/statehub/pkg/models"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func newTestManager(maxSessions int) (*Manager, *store.Store) {
	st := store.New(64)
	return New(st, maxSessions, "claude-sonnet", testLogger()), st
}

func TestCreateCommitsSessionAndSeedsChannels(t *testing.T) {
	m, st := newTestManager(4)

	sess, err := m.Create("chat", "/work", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "claude-sonnet", sess.Model, "empty model falls back to the default")
	assert.Equal(t, models.SessionActive, sess.Status)

	snap := st.Snapshot(sessionsKey())
	require.Len(t, snap.Items, 1)
	var stored models.Session
	require.NoError(t, json.Unmarshal(snap.Items[0].Data, &stored))
	assert.Equal(t, "chat", stored.Title)
	assert.Equal(t, "/work", stored.WorkingDirectory)

	agentSnap := st.Snapshot(agentKey(sess.ID))
	require.Len(t, agentSnap.Items, 1)
	var status models.AgentStatus
	require.NoError(t, json.Unmarshal(agentSnap.Items[0].Data, &status))
	assert.Equal(t, models.AgentIdle, status.State)

	commandsSnap := st.Snapshot(commandsKey(sess.ID))
	assert.Len(t, commandsSnap.Items, 3)
}

func TestCreateEnforcesSessionLimit(t *testing.T) {
	m, _ := newTestManager(2)

	_, err := m.Create("one", "", "")
	require.NoError(t, err)
	_, err = m.Create("two", "", "")
	require.NoError(t, err)

	_, err = m.Create("three", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeSessionLimit))
}

func TestRenameCommitsPartialUpdate(t *testing.T) {
	m, st := newTestManager(4)
	sess, err := m.Create("before", "", "")
	require.NoError(t, err)

	versionBefore := st.Version(sessionsKey())
	require.NoError(t, m.Rename(sess.ID, "after"))

	snap := st.Snapshot(sessionsKey())
	var stored models.Session
	require.NoError(t, json.Unmarshal(snap.Items[0].Data, &stored))
	assert.Equal(t, "after", stored.Title)
	assert.Equal(t, versionBefore+1, snap.Meta.Version)

	assert.Error(t, m.Rename("missing", "x"))
}

func TestArchive(t *testing.T) {
	m, st := newTestManager(4)
	sess, err := m.Create("archive me", "", "")
	require.NoError(t, err)

	require.NoError(t, m.Archive(sess.ID))

	snap := st.Snapshot(sessionsKey())
	var stored models.Session
	require.NoError(t, json.Unmarshal(snap.Items[0].Data, &stored))
	assert.Equal(t, models.SessionArchived, stored.Status)

	// Archived sessions still resolve.
	_, err = m.Get(sess.ID)
	assert.NoError(t, err)
}

func TestDeleteRemovesSessionAndDropsScope(t *testing.T) {
	m, st := newTestManager(4)
	sess, err := m.Create("doomed", "", "")
	require.NoError(t, err)
	_, err = m.SendMessage(sess.ID, "hello")
	require.NoError(t, err)
	require.NotZero(t, st.Version(messagesKey(sess.ID)))

	require.NoError(t, m.Delete(sess.ID))

	snap := st.Snapshot(sessionsKey())
	assert.Empty(t, snap.Items)
	assert.Zero(t, st.Version(messagesKey(sess.ID)), "scoped channels are dropped")

	_, err = m.Get(sess.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))
	assert.Error(t, m.Delete(sess.ID))
}

func TestSendMessageCommitsAndCounts(t *testing.T) {
	m, st := newTestManager(4)
	sess, err := m.Create("chat", "", "")
	require.NoError(t, err)

	msg, err := m.SendMessage(sess.ID, "first")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, msg.Role)
	assert.Equal(t, sess.ID, msg.SessionID)

	msgSnap := st.Snapshot(messagesKey(sess.ID))
	require.Len(t, msgSnap.Items, 1)

	var stored models.Session
	sessSnap := st.Snapshot(sessionsKey())
	require.NoError(t, json.Unmarshal(sessSnap.Items[0].Data, &stored))
	assert.Equal(t, 1, stored.MessageCount)

	_, err = m.SendMessage("missing", "x")
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))
}

func TestResponderReceivesMessage(t *testing.T) {
	m, _ := newTestManager(4)

	received := make(chan *models.Message, 1)
	m.SetResponder(func(mgr *Manager, sess *models.Session, msg *models.Message) {
		received <- msg
	})

	sess, err := m.Create("chat", "", "")
	require.NoError(t, err)
	sent, err := m.SendMessage(sess.ID, "hello responder")
	require.NoError(t, err)

	got := <-received
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello responder", got.Content)
}

func TestContextUsageAddsThenUpdates(t *testing.T) {
	m, st := newTestManager(4)
	sess, err := m.Create("chat", "", "")
	require.NoError(t, err)

	m.SetContextUsage(&models.ContextUsage{SessionID: sess.ID, UsedTokens: 10, MaxTokens: 100, Percent: 10})
	m.SetContextUsage(&models.ContextUsage{SessionID: sess.ID, UsedTokens: 20, MaxTokens: 100, Percent: 20})

	snap := st.Snapshot(contextKey(sess.ID))
	require.Len(t, snap.Items, 1)
	var usage models.ContextUsage
	require.NoError(t, json.Unmarshal(snap.Items[0].Data, &usage))
	assert.Equal(t, 20, usage.UsedTokens)
	assert.Equal(t, uint64(2), snap.Meta.Version)
}
