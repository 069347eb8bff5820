package models

import "time"

// AgentState describes what the agent attached to a session is doing.
type AgentState string

const (
	AgentIdle       AgentState = "idle"
	AgentThinking   AgentState = "thinking"
	AgentResponding AgentState = "responding"
	AgentExecuting  AgentState = "executing"
)

// AgentStatus is the per-session agent activity carried on state.agent.
type AgentStatus struct {
	SessionID   string     `json:"session_id"`
	State       AgentState `json:"state"`
	CurrentTool string     `json:"current_tool,omitempty"`
	Since       time.Time  `json:"since"`
}

// ContextUsage tracks token consumption for a session, carried on state.context.
type ContextUsage struct {
	SessionID  string  `json:"session_id"`
	UsedTokens int     `json:"used_tokens"`
	MaxTokens  int     `json:"max_tokens"`
	Percent    float64 `json:"percent"`
}

// SlashCommand is a command the agent exposes to the UI, carried on state.commands.
type SlashCommand struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ArgumentHint string `json:"argument_hint,omitempty"`
}
