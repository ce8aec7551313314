package gossip

import (
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
)

// Well-known application state keys.
const (
	StateToken         = "NODE-IDENTIFIER"
	StateBootstrapMode = "BOOTSTRAP-MODE"
	StateLoad          = "LOAD"
	StateDatacenter    = ring.StateDatacenter
	StateRack          = ring.StateRack
)

// ApplicationState is one versioned value published by a node.
type ApplicationState struct {
	Value   string `json:"v"`
	Version int64  `json:"n"`
}

// EndPointState is what a subscriber learns about a node. A state without
// application values is a health-only update.
type EndPointState struct {
	Generation int64                       `json:"generation"`
	Version    int64                       `json:"version"`
	States     map[string]ApplicationState `json:"states,omitempty"`
	Alive      bool                        `json:"alive"`
}

// Value returns the application state stored under key.
func (s EndPointState) Value(key string) (string, bool) {
	st, ok := s.States[key]
	if !ok {
		return "", false
	}
	return st.Value, true
}

// HealthOnly reports whether the update carries no application values.
func (s EndPointState) HealthOnly() bool {
	return len(s.States) == 0
}

func (s EndPointState) clone() EndPointState {
	out := s
	if s.States != nil {
		out.States = make(map[string]ApplicationState, len(s.States))
		for k, v := range s.States {
			out.States[k] = v
		}
	}
	return out
}

// changedFrom reports whether any application value differs from prev.
func (s EndPointState) changedFrom(prev EndPointState) bool {
	if s.Generation != prev.Generation || len(s.States) != len(prev.States) {
		return true
	}
	for k, v := range s.States {
		pv, ok := prev.States[k]
		if !ok || pv.Value != v.Value {
			return true
		}
	}
	return false
}

// Subscriber receives membership changes. Calls are made one at a time from a
// single dispatcher goroutine and must not block for long.
type Subscriber interface {
	OnChange(ep ring.EndPoint, state EndPointState)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ep ring.EndPoint, state EndPointState)

func (f SubscriberFunc) OnChange(ep ring.EndPoint, state EndPointState) { f(ep, state) }
