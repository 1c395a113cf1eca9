package store

// Stores is the top-level container for the gateway's four persisted
// stores. Every field is populated in both standalone (file-backed) and
// managed (Postgres-backed) mode.
type Stores struct {
	Sessions         SessionStore
	Pairing          PairingStore
	AllowFrom        AllowFromStore
	ConversationRefs ConversationRefStore
}

// StoreConfig configures the managed-mode (Postgres) store factory.
type StoreConfig struct {
	PostgresDSN string
}
