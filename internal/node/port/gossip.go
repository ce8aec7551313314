package port

import (
	"github.com/anthanhphan/go-distributed-kv/pkg/gossip"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
)

// Gossiper is the membership transport the directory runs on.
type Gossiper interface {
	// Start begins gossiping with the given generation.
	Start(generation int64) error
	// Register subscribes to membership changes.
	Register(sub gossip.Subscriber)
	AddApplicationState(key, value string)
	DeleteApplicationState(key string)
	LiveMembers() []ring.EndPoint
	UnreachableMembers() []ring.EndPoint
	IsAlive(ep ring.EndPoint) bool
	CurrentGeneration(ep ring.EndPoint) int64
	ApplicationStateValue(ep ring.EndPoint, key string) (string, bool)
	LocalEndPoint() ring.EndPoint
	// IsSeed reports whether the local node is listed as a seed.
	IsSeed() bool
	Leave() error
}
