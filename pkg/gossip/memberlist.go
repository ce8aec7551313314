package gossip

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/hashicorp/memberlist"
)

const (
	defaultJoinRetries = 5
	defaultJoinBackoff = 2 * time.Second
	updateTimeout      = 5 * time.Second
	eventBuffer        = 1024
)

// Config configures the gossip adapter.
type Config struct {
	NodeName      string
	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	StoragePort   int
	ControlPort   int
	Seeds         []string
	JoinRetries   int
	JoinBackoff   time.Duration
}

// nodeMeta is the payload carried in memberlist node metadata.
type nodeMeta struct {
	Host        string                      `json:"h"`
	StoragePort int                         `json:"sp"`
	ControlPort int                         `json:"cp,omitempty"`
	Generation  int64                       `json:"g"`
	Version     int64                       `json:"ver"`
	States      map[string]ApplicationState `json:"s,omitempty"`
}

type event struct {
	ep    ring.EndPoint
	state EndPointState
}

// GossipAdapter propagates application state over memberlist and reports
// membership changes to subscribers.
type GossipAdapter struct {
	cfg  Config
	conf *memberlist.Config
	list *memberlist.Memberlist

	mu     sync.RWMutex
	local  nodeMeta
	remote map[string]EndPointState
	peers  map[string]ring.EndPoint

	subsMu sync.RWMutex
	subs   []Subscriber

	events    chan event
	stopOnce  sync.Once
	done      chan struct{}
	dispatchW sync.WaitGroup
}

// Ensure GossipAdapter implements the memberlist delegates.
var (
	_ memberlist.Delegate      = (*GossipAdapter)(nil)
	_ memberlist.EventDelegate = (*GossipAdapter)(nil)
)

// NewGossipAdapter creates an adapter. Nothing is sent until Start.
func NewGossipAdapter(cfg Config) *GossipAdapter {
	if cfg.JoinRetries <= 0 {
		cfg.JoinRetries = defaultJoinRetries
	}
	if cfg.JoinBackoff <= 0 {
		cfg.JoinBackoff = defaultJoinBackoff
	}
	host := cfg.AdvertiseAddr
	if host == "" {
		host = cfg.BindAddr
	}

	g := &GossipAdapter{
		cfg: cfg,
		local: nodeMeta{
			Host:        host,
			StoragePort: cfg.StoragePort,
			ControlPort: cfg.ControlPort,
			States:      make(map[string]ApplicationState),
		},
		remote: make(map[string]EndPointState),
		peers:  make(map[string]ring.EndPoint),
		events: make(chan event, eventBuffer),
		done:   make(chan struct{}),
	}

	g.dispatchW.Add(1)
	go g.dispatch()
	return g
}

// Start begins gossiping with the given generation and joins the seeds.
// A failure to reach any seed is logged, not returned: the node keeps running
// and seeds may contact it later.
func (g *GossipAdapter) Start(generation int64) error {
	g.mu.Lock()
	g.local.Generation = generation
	g.mu.Unlock()

	conf := memberlist.DefaultLANConfig()
	if g.cfg.NodeName != "" {
		conf.Name = g.cfg.NodeName
	}
	conf.BindAddr = g.cfg.BindAddr
	conf.BindPort = g.cfg.BindPort
	conf.AdvertisePort = g.cfg.BindPort
	if g.cfg.AdvertiseAddr != "" {
		conf.AdvertiseAddr = g.cfg.AdvertiseAddr
	}
	conf.LogOutput = io.Discard
	conf.Events = g
	conf.Delegate = g
	g.conf = conf

	list, err := memberlist.Create(conf)
	if err != nil {
		return fmt.Errorf("failed to create memberlist: %w", err)
	}
	g.mu.Lock()
	g.list = list
	g.local.Host = g.serverHostLocked()
	g.mu.Unlock()

	seeds := g.remoteSeeds()
	if len(seeds) == 0 {
		return nil
	}

	if err := g.joinSeeds(seeds, list.Join); err != nil {
		logger.Errorw("Failed to join cluster after retries", "seeds", seeds, "error", err.Error())
	}
	return nil
}

// joinSeeds calls join up to JoinRetries times, backing off between attempts.
func (g *GossipAdapter) joinSeeds(seeds []string, join func([]string) (int, error)) error {
	var err error
	for attempt := 1; attempt <= g.cfg.JoinRetries; attempt++ {
		if _, err = join(seeds); err == nil {
			return nil
		}
		if attempt == g.cfg.JoinRetries {
			break
		}
		logger.Warnw("Failed to join cluster, retrying...", "attempt", attempt, "error", err.Error())
		time.Sleep(g.cfg.JoinBackoff)
	}
	return err
}

// remoteSeeds drops entries pointing at this node.
func (g *GossipAdapter) remoteSeeds() []string {
	self := g.LocalEndPoint().Host
	out := make([]string, 0, len(g.cfg.Seeds))
	for _, seed := range g.cfg.Seeds {
		if seed == "" {
			continue
		}
		host, port, err := net.SplitHostPort(seed)
		if err == nil && host == self && port == fmt.Sprint(g.cfg.BindPort) {
			continue
		}
		out = append(out, seed)
	}
	return out
}

// IsSeed reports whether this node appears in its own seed list.
func (g *GossipAdapter) IsSeed() bool {
	return len(g.remoteSeeds()) < len(nonEmpty(g.cfg.Seeds))
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Leave announces departure and shuts memberlist down.
func (g *GossipAdapter) Leave() error {
	defer g.stopDispatch()

	g.mu.RLock()
	list := g.list
	g.mu.RUnlock()
	if list == nil {
		return nil
	}
	if err := list.Leave(updateTimeout); err != nil {
		return err
	}
	return list.Shutdown()
}

func (g *GossipAdapter) stopDispatch() {
	g.stopOnce.Do(func() {
		close(g.done)
		g.dispatchW.Wait()
	})
}

// Register adds a subscriber for membership changes.
func (g *GossipAdapter) Register(sub Subscriber) {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	g.subs = append(g.subs, sub)
}

// AddApplicationState publishes key=value for this node.
func (g *GossipAdapter) AddApplicationState(key, value string) {
	g.mu.Lock()
	g.local.Version++
	g.local.States[key] = ApplicationState{Value: value, Version: g.local.Version}
	g.mu.Unlock()
	g.broadcast()
}

// DeleteApplicationState withdraws key for this node.
func (g *GossipAdapter) DeleteApplicationState(key string) {
	g.mu.Lock()
	if _, ok := g.local.States[key]; !ok {
		g.mu.Unlock()
		return
	}
	g.local.Version++
	delete(g.local.States, key)
	g.mu.Unlock()
	g.broadcast()
}

func (g *GossipAdapter) broadcast() {
	g.mu.RLock()
	list := g.list
	g.mu.RUnlock()
	if list == nil {
		return
	}
	if err := list.UpdateNode(updateTimeout); err != nil {
		logger.Warnw("Failed to broadcast node state", "error", err.Error())
	}
}

// LocalEndPoint returns this node's identity.
func (g *GossipAdapter) LocalEndPoint() ring.EndPoint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return ring.EndPoint{Host: g.local.Host, StoragePort: g.local.StoragePort, ControlPort: g.local.ControlPort}
}

// LiveMembers returns alive endpoints, this node included, sorted by host.
func (g *GossipAdapter) LiveMembers() []ring.EndPoint {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := []ring.EndPoint{{Host: g.local.Host, StoragePort: g.local.StoragePort, ControlPort: g.local.ControlPort}}
	for host, st := range g.remote {
		if st.Alive {
			out = append(out, g.peers[host])
		}
	}
	sortEndPoints(out)
	return out
}

// UnreachableMembers returns known endpoints currently considered dead.
func (g *GossipAdapter) UnreachableMembers() []ring.EndPoint {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]ring.EndPoint, 0)
	for host, st := range g.remote {
		if !st.Alive {
			out = append(out, g.peers[host])
		}
	}
	sortEndPoints(out)
	return out
}

func sortEndPoints(eps []ring.EndPoint) {
	sort.Slice(eps, func(i, j int) bool { return eps[i].Host < eps[j].Host })
}

// IsAlive reports the liveness of ep. This node is always alive.
func (g *GossipAdapter) IsAlive(ep ring.EndPoint) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ep.Host == g.local.Host {
		return true
	}
	return g.remote[ep.Host].Alive
}

// CurrentGeneration returns the last generation seen for ep.
func (g *GossipAdapter) CurrentGeneration(ep ring.EndPoint) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ep.Host == g.local.Host {
		return g.local.Generation
	}
	return g.remote[ep.Host].Generation
}

// ApplicationStateValue returns the value of key published by ep.
func (g *GossipAdapter) ApplicationStateValue(ep ring.EndPoint, key string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ep.Host == g.local.Host {
		st, ok := g.local.States[key]
		return st.Value, ok
	}
	return g.remote[ep.Host].Value(key)
}

// NodeMeta returns the local node metadata.
func (g *GossipAdapter) NodeMeta(limit int) []byte {
	g.mu.RLock()
	data, err := json.Marshal(g.local)
	g.mu.RUnlock()
	if err != nil {
		logger.Warnw("failed to marshal gossip node meta", "error", err.Error())
		return nil
	}
	if limit > 0 && len(data) > limit {
		logger.Warnw("gossip node meta exceeds limit", "size", len(data), "limit", limit)
		return nil
	}
	return data
}

// NotifyMsg, GetBroadcasts, LocalState, MergeRemoteState are not used here but required by Delegate
func (g *GossipAdapter) NotifyMsg([]byte)                           {}
func (g *GossipAdapter) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (g *GossipAdapter) LocalState(join bool) []byte                { return nil }
func (g *GossipAdapter) MergeRemoteState(buf []byte, join bool)     {}

// NotifyJoin is invoked when a node joins or comes back.
func (g *GossipAdapter) NotifyJoin(node *memberlist.Node) {
	g.observe(node, true)
}

// NotifyUpdate is invoked when a node's metadata changes.
func (g *GossipAdapter) NotifyUpdate(node *memberlist.Node) {
	g.observe(node, false)
}

// NotifyLeave is invoked when a node leaves or is declared dead.
func (g *GossipAdapter) NotifyLeave(node *memberlist.Node) {
	ep, meta, ok := g.decodeNode(node)
	if !ok {
		return
	}

	g.mu.Lock()
	prev, known := g.remote[ep.Host]
	prev.Alive = false
	if !known {
		prev.Generation = meta.Generation
	}
	g.remote[ep.Host] = prev
	g.peers[ep.Host] = ep
	g.mu.Unlock()

	logger.Infow("Node left", "host", ep.Host, "name", node.Name)
	g.enqueue(ep, EndPointState{Generation: prev.Generation, Version: prev.Version, Alive: false})
}

func (g *GossipAdapter) observe(node *memberlist.Node, joined bool) {
	ep, meta, ok := g.decodeNode(node)
	if !ok {
		return
	}

	next := EndPointState{
		Generation: meta.Generation,
		Version:    meta.Version,
		States:     meta.States,
		Alive:      true,
	}

	g.mu.Lock()
	prev, known := g.remote[ep.Host]
	g.remote[ep.Host] = next
	g.peers[ep.Host] = ep
	g.mu.Unlock()

	if known && prev.Alive && !next.changedFrom(prev) {
		return
	}
	if joined {
		logger.Infow("Node joined", "host", ep.Host, "name", node.Name, "generation", meta.Generation)
	}
	g.enqueue(ep, next.clone())
}

func (g *GossipAdapter) decodeNode(node *memberlist.Node) (ring.EndPoint, nodeMeta, bool) {
	if node == nil {
		return ring.EndPoint{}, nodeMeta{}, false
	}
	meta := decodeMeta(node.Meta)
	host := meta.Host
	if host == "" && node.Addr != nil {
		host = node.Addr.String()
	}

	g.mu.RLock()
	self := g.local.Host
	g.mu.RUnlock()
	if host == "" || host == self {
		return ring.EndPoint{}, nodeMeta{}, false
	}
	return ring.EndPoint{Host: host, StoragePort: meta.StoragePort, ControlPort: meta.ControlPort}, meta, true
}

func (g *GossipAdapter) enqueue(ep ring.EndPoint, state EndPointState) {
	select {
	case g.events <- event{ep: ep, state: state}:
	case <-g.done:
	}
}

func (g *GossipAdapter) dispatch() {
	defer g.dispatchW.Done()
	for {
		select {
		case ev := <-g.events:
			g.subsMu.RLock()
			subs := g.subs
			g.subsMu.RUnlock()
			for _, sub := range subs {
				sub.OnChange(ev.ep, ev.state)
			}
		case <-g.done:
			return
		}
	}
}

func decodeMeta(meta []byte) nodeMeta {
	var m nodeMeta
	if len(meta) == 0 {
		return m
	}
	if err := json.Unmarshal(meta, &m); err != nil {
		logger.Warnw("failed to decode node metadata", "error", err.Error())
		return nodeMeta{}
	}
	return m
}

func (g *GossipAdapter) serverHostLocked() string {
	addr := g.local.Host
	if addr == "" {
		return addr
	}
	if ip := net.ParseIP(addr); ip == nil || !ip.IsUnspecified() {
		return addr
	}

	if g.list == nil || g.list.LocalNode() == nil {
		return addr
	}

	adv := g.list.LocalNode().Addr.String()
	if adv == "" {
		return addr
	}
	if ip := net.ParseIP(adv); ip != nil && ip.IsUnspecified() {
		return addr
	}
	return adv
}
