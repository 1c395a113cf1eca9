package file

import (
	"github.com/goclaw/gateway/internal/pairing"
	"github.com/goclaw/gateway/internal/store"
)

// FilePairingStore wraps pairing.Service to implement store.PairingStore.
type FilePairingStore struct {
	svc *pairing.Service
}

func NewFilePairingStore(svc *pairing.Service) *FilePairingStore {
	return &FilePairingStore{svc: svc}
}

func (f *FilePairingStore) IsPaired(senderID, channel string) bool {
	return f.svc.IsPaired(senderID, channel)
}

func (f *FilePairingStore) RequestPairing(senderID, channel, chatID, agentID string) (string, error) {
	return f.svc.RequestPairing(senderID, channel, chatID, agentID)
}

func (f *FilePairingStore) Approve(code string) error {
	return f.svc.Approve(code)
}

func (f *FilePairingStore) List() []store.PairingRequest {
	records := f.svc.List()
	out := make([]store.PairingRequest, len(records))
	for i, rec := range records {
		out[i] = store.PairingRequest{
			Code:        rec.Code,
			SenderID:    rec.SenderID,
			Channel:     rec.Channel,
			ChatID:      rec.ChatID,
			AgentID:     rec.AgentID,
			Approved:    rec.Approved,
			RequestedAt: rec.RequestedAt,
			ApprovedAt:  rec.ApprovedAt,
			ExpiresAt:   rec.ExpiresAt,
		}
	}
	return out
}
