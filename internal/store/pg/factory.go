package pg

import (
	"fmt"

	"github.com/goclaw/gateway/internal/store"
)

// NewPGStores creates all four stores backed by Postgres (managed mode).
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &store.Stores{
		Sessions:         NewPGSessionStore(db),
		Pairing:          NewPGPairingStore(db),
		AllowFrom:        NewPGAllowFromStore(db),
		ConversationRefs: NewPGConversationRefStore(db),
	}, nil
}
