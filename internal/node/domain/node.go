package domain

import (
	"time"

	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
)

// NodeState is the join state of the local node.
type NodeState string

const (
	NodeStateUninitialized NodeState = "UNINITIALIZED"
	NodeStateBootstrapping NodeState = "BOOTSTRAPPING"
	NodeStateNormal        NodeState = "NORMAL"
)

// LocalMetadata is the durable record of the local node's ring position.
type LocalMetadata struct {
	Token        ring.Token            `json:"token"`
	Generation   int64                 `json:"generation"`
	Bootstrapped bool                  `json:"bootstrapped"`
	AutoAssigned bool                  `json:"auto_assigned"`
	Peers        map[string]PeerRecord `json:"peers,omitempty"`
}

// PeerRecord is the last persisted token of a remote node.
type PeerRecord struct {
	EndPoint ring.EndPoint `json:"endpoint"`
	Token    ring.Token    `json:"token"`
}

// Hint is a write held for a replica that was unreachable when it was made.
type Hint struct {
	ID        int64         `json:"id"`
	Target    ring.EndPoint `json:"target"`
	Mutation  Mutation      `json:"mutation"`
	CreatedAt time.Time     `json:"created_at"`
}

// HandoffFile is one manifest entry of an offline data handoff.
type HandoffFile struct {
	Path   string `json:"path"`
	Length int64  `json:"length"`
	Table  string `json:"table"`
}

// HandoffChunk is a slice of a manifest file's bytes.
type HandoffChunk struct {
	File int
	Data []byte
}

// HandoffResult summarizes a completed handoff session.
type HandoffResult struct {
	SessionID string `json:"session_id"`
	Files     int    `json:"files"`
	Bytes     int64  `json:"bytes"`
}

// RepairStats counts background consistency check outcomes.
type RepairStats struct {
	Submitted  int64 `json:"submitted"`
	Dropped    int64 `json:"dropped"`
	Checked    int64 `json:"checked"`
	Mismatches int64 `json:"mismatches"`
	Repaired   int64 `json:"repaired"`
	Failures   int64 `json:"failures"`
}
