package store

import "time"

// SessionData is the resumption state the Agent Turn Runner needs to
// continue a conversation: which provider-side session id to resume, and
// where the last reply went.
type SessionData struct {
	Key          string    `json:"key"`
	SessionID    string    `json:"sessionId,omitempty"`
	LastProvider string    `json:"lastProvider,omitempty"`
	LastTo       string    `json:"lastTo,omitempty"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// SessionInfo is lightweight session metadata for listing.
type SessionInfo struct {
	Key     string    `json:"key"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// SessionStore is the per-agent map {sessionKey → resumption record} the
// scheduler consults before invoking the Agent Turn Runner, and updates
// once a turn completes. It is the only store the scheduler itself
// mutates directly.
type SessionStore interface {
	GetOrCreate(key string) *SessionData
	Touch(key, sessionID, provider, to string)
	Delete(key string)
	List(agentID string) []SessionInfo
	Save() error
}
