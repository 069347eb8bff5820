// Package agent provides the daemon's built-in responder. It stands in for
// a real LLM backend: every user message produces an agent state cycle, an
// SDK event trail, an assistant reply, and a context usage update, all
// committed as ordinary deltas so clients exercise the full channel set.
package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/statehub/internal/daemon/session"
	"github.com/grovetools/statehub/pkg/models"
)

const maxContextTokens = 200000

// EchoResponder returns a responder that replies to every user message
// with an acknowledgement. thinkDelay spaces the agent state transitions
// so clients observe them as distinct deltas; zero makes it immediate,
// which tests use.
func EchoResponder(thinkDelay time.Duration, logger *logrus.Entry) session.Responder {
	return func(m *session.Manager, sess *models.Session, msg *models.Message) {
		m.SetAgentState(sess.ID, models.AgentThinking)
		m.AppendSDKMessage(sess.ID, &models.SDKMessage{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Type:      "message_start",
			Payload:   fmt.Sprintf(`{"model":%q}`, sess.Model),
			Timestamp: time.Now().UTC(),
		})

		if thinkDelay > 0 {
			time.Sleep(thinkDelay)
		}

		m.SetAgentState(sess.ID, models.AgentResponding)
		reply := &models.Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Role:      models.RoleAssistant,
			Content:   fmt.Sprintf("Received: %s", msg.Content),
			Timestamp: time.Now().UTC(),
		}
		m.AppendMessage(reply)
		m.AppendSDKMessage(sess.ID, &models.SDKMessage{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Type:      "message_stop",
			Payload:   `{"stop_reason":"end_turn"}`,
			Timestamp: time.Now().UTC(),
		})

		used := (len(msg.Content) + len(reply.Content)) / 4
		m.SetContextUsage(&models.ContextUsage{
			SessionID:  sess.ID,
			UsedTokens: used,
			MaxTokens:  maxContextTokens,
			Percent:    float64(used) / maxContextTokens * 100,
		})
		m.SetAgentState(sess.ID, models.AgentIdle)

		logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"message_id": reply.ID,
		}).Debug("Agent reply committed")
	}
}
