package file

import (
	"github.com/goclaw/gateway/internal/allowfrom"
	"github.com/goclaw/gateway/internal/store"
)

// FileAllowFromStore wraps allowfrom.Service to implement store.AllowFromStore.
type FileAllowFromStore struct {
	svc *allowfrom.Service
}

func NewFileAllowFromStore(svc *allowfrom.Service) *FileAllowFromStore {
	return &FileAllowFromStore{svc: svc}
}

func (f *FileAllowFromStore) IsAllowed(channel string, scope store.AllowFromScope, peerID string) bool {
	return f.svc.IsAllowed(channel, scope, peerID)
}

func (f *FileAllowFromStore) Add(channel string, scope store.AllowFromScope, peerID, agentID, addedBy string) error {
	return f.svc.Add(channel, scope, peerID, agentID, addedBy)
}

func (f *FileAllowFromStore) Remove(channel string, scope store.AllowFromScope, peerID string) error {
	return f.svc.Remove(channel, scope, peerID)
}

func (f *FileAllowFromStore) List(channel string) []store.AllowFromEntry {
	return f.svc.List(channel)
}
