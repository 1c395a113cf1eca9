// Package protocol holds the handful of wire constants shared across the
// gateway binary — currently just the version stamp printed by `goclaw
// version`.
package protocol

// ProtocolVersion identifies the version of the gateway's persisted state
// formats. Bumped on any breaking change to the persisted state layout or
// the state-store JSON document shapes.
const ProtocolVersion = 1
