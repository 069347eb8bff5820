package models

import "time"

// AuthState is the global authentication state carried on state.auth.
type AuthState struct {
	Authenticated bool      `json:"authenticated"`
	Method        string    `json:"method,omitempty"` // "api_key" or "oauth"
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// ServerConfig is the client-visible daemon configuration carried on state.config.
type ServerConfig struct {
	DefaultModel       string `json:"default_model"`
	MaxSessions        int    `json:"max_sessions"`
	OptimisticDeadline string `json:"optimistic_deadline"`
	Revision           int    `json:"revision"`
}

// Health is the daemon health report carried on state.health.
type Health struct {
	Status         string    `json:"status"` // "ok" or "degraded"
	Uptime         string    `json:"uptime"`
	ActiveSessions int       `json:"active_sessions"`
	CheckedAt      time.Time `json:"checked_at"`
}
