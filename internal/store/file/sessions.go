package file

import (
	"github.com/goclaw/gateway/internal/sessions"
	"github.com/goclaw/gateway/internal/store"
)

// FileSessionStore wraps sessions.Manager to implement store.SessionStore.
type FileSessionStore struct {
	mgr *sessions.Manager
}

func NewFileSessionStore(mgr *sessions.Manager) *FileSessionStore {
	return &FileSessionStore{mgr: mgr}
}

// Manager returns the underlying sessions.Manager for direct access during migration.
func (f *FileSessionStore) Manager() *sessions.Manager { return f.mgr }

func (f *FileSessionStore) GetOrCreate(key string) *store.SessionData {
	return recordToData(f.mgr.GetOrCreate(key))
}

func (f *FileSessionStore) Touch(key, sessionID, provider, to string) {
	f.mgr.Touch(key, sessionID, provider, to)
}

func (f *FileSessionStore) Delete(key string) {
	f.mgr.Delete(key)
}

func (f *FileSessionStore) List(agentID string) []store.SessionInfo {
	items := f.mgr.List(agentID)
	result := make([]store.SessionInfo, len(items))
	for i, item := range items {
		result[i] = store.SessionInfo{
			Key:     item.Key,
			Created: item.Created,
			Updated: item.Updated,
		}
	}
	return result
}

func (f *FileSessionStore) Save() error {
	return f.mgr.Save()
}

func recordToData(r *sessions.Record) *store.SessionData {
	return &store.SessionData{
		Key:          r.Key,
		SessionID:    r.SessionID,
		LastProvider: r.LastProvider,
		LastTo:       r.LastTo,
		Created:      r.Created,
		Updated:      r.Updated,
	}
}
