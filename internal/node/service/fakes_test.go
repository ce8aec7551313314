package service

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/internal/node/service/mocks"
	"github.com/anthanhphan/go-distributed-kv/pkg/gossip"
	"github.com/anthanhphan/go-distributed-kv/pkg/idgen"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func ep(host string) ring.EndPoint {
	return ring.EndPoint{Host: host, StoragePort: 7000, ControlPort: 7001}
}

// numericPartitioner places decimal keys at their own value so tests can
// reason about ownership directly.
type numericPartitioner struct{ ring.Murmur3Partitioner }

func (numericPartitioner) TokenFor(key []byte) ring.Token {
	t, err := ring.ParseToken(string(key))
	if err != nil {
		return ring.Murmur3Partitioner{}.TokenFor(key)
	}
	return t
}

type fakeGossiper struct {
	mu         sync.Mutex
	local      ring.EndPoint
	seed       bool
	peers      map[string]ring.EndPoint
	alive      map[string]bool
	states     map[string]map[string]string
	sub        gossip.Subscriber
	generation int64
	peerGens   map[string]int64
}

func newFakeGossiper(local ring.EndPoint) *fakeGossiper {
	return &fakeGossiper{
		local:    local,
		peers:    make(map[string]ring.EndPoint),
		alive:    make(map[string]bool),
		states:   map[string]map[string]string{local.Host: {}},
		peerGens: make(map[string]int64),
	}
}

func (g *fakeGossiper) Start(generation int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation = generation
	return nil
}

func (g *fakeGossiper) Register(sub gossip.Subscriber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sub = sub
}

func (g *fakeGossiper) AddApplicationState(key, value string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[g.local.Host][key] = value
}

func (g *fakeGossiper) DeleteApplicationState(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states[g.local.Host], key)
}

func (g *fakeGossiper) LiveMembers() []ring.EndPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := []ring.EndPoint{g.local}
	for host, p := range g.peers {
		if g.alive[host] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

func (g *fakeGossiper) UnreachableMembers() []ring.EndPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []ring.EndPoint
	for host, p := range g.peers {
		if !g.alive[host] {
			out = append(out, p)
		}
	}
	return out
}

func (g *fakeGossiper) IsAlive(ep ring.EndPoint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ep.Host == g.local.Host || g.alive[ep.Host]
}

func (g *fakeGossiper) CurrentGeneration(ep ring.EndPoint) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen, ok := g.peerGens[ep.Host]; ok {
		return gen
	}
	return 1
}

func (g *fakeGossiper) setGeneration(host string, gen int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.peerGens[host] = gen
}

func (g *fakeGossiper) ApplicationStateValue(ep ring.EndPoint, key string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.states[ep.Host][key]
	return v, ok
}

func (g *fakeGossiper) LocalEndPoint() ring.EndPoint { return g.local }
func (g *fakeGossiper) IsSeed() bool                 { return g.seed }
func (g *fakeGossiper) Leave() error                 { return nil }

func (g *fakeGossiper) setPeer(ep ring.EndPoint, alive bool, states map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.peers[ep.Host] = ep
	g.alive[ep.Host] = alive
	if states != nil {
		g.states[ep.Host] = states
	}
}

func (g *fakeGossiper) localState(key string) (string, bool) {
	return g.ApplicationStateValue(g.local, key)
}

type fakeEngine struct {
	mu        sync.Mutex
	dataDir   string
	tables    map[string]map[string]*domain.Row
	flushed   []string
	compacted []string
	snapshots map[string][]string
	imported  map[string][]string
	applyErr  error
}

func newFakeEngine(dataDir string, tables ...string) *fakeEngine {
	e := &fakeEngine{
		dataDir:   dataDir,
		tables:    make(map[string]map[string]*domain.Row),
		snapshots: make(map[string][]string),
		imported:  make(map[string][]string),
	}
	for _, t := range tables {
		e.tables[t] = make(map[string]*domain.Row)
	}
	return e
}

func (e *fakeEngine) Apply(_ context.Context, m domain.Mutation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applyErr != nil {
		return e.applyErr
	}
	rows, ok := e.tables[m.Table]
	if !ok {
		return port.ErrTableNotFound
	}
	row, ok := rows[m.Key]
	if !ok {
		row = domain.NewRow(m.Table, m.Key)
		rows[m.Key] = row
	}
	row.Merge(m.Row())
	return nil
}

func (e *fakeEngine) Read(_ context.Context, table, key string) (*domain.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.tables[table]
	if !ok {
		return nil, port.ErrTableNotFound
	}
	row, ok := rows[key]
	if !ok {
		return nil, port.ErrRowNotFound
	}
	return row.Clone(), nil
}

func (e *fakeEngine) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.tables))
	for t := range e.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (e *fakeEngine) HasTable(table string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tables[table]
	return ok
}

func (e *fakeEngine) IndexedKeys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, rows := range e.tables {
		for k := range rows {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (e *fakeEngine) ScanRanges(ctx context.Context, ranges []ring.Range, tokenFor func([]byte) ring.Token, fn func(*domain.Row) error) error {
	e.mu.Lock()
	var matched []*domain.Row
	for _, rows := range e.tables {
		for k, row := range rows {
			t := tokenFor([]byte(k))
			for _, r := range ranges {
				if r.Contains(t) {
					matched = append(matched, row.Clone())
					break
				}
			}
		}
	}
	e.mu.Unlock()
	for _, row := range matched {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (e *fakeEngine) Flush(table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushed = append(e.flushed, table)
	return nil
}

func (e *fakeEngine) Compact(table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compacted = append(e.compacted, table)
	return nil
}

func (e *fakeEngine) Cleanup(table string, keep func(string) bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for k := range e.tables[table] {
		if !keep(k) {
			delete(e.tables[table], k)
			removed++
		}
	}
	return removed, nil
}

func (e *fakeEngine) Snapshot(table, tag string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots[tag] = append(e.snapshots[tag], table)
	return nil
}

func (e *fakeEngine) ClearSnapshots() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots = make(map[string][]string)
	return nil
}

func (e *fakeEngine) ImportSegments(table string, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		e.imported[table] = append(e.imported[table], string(data))
	}
	return nil
}

func (e *fakeEngine) DataDir() string { return e.dataDir }
func (e *fakeEngine) Load() int64     { return 4096 }
func (e *fakeEngine) Close() error    { return nil }

func (e *fakeEngine) put(table, key string, cols ...domain.Column) {
	_ = e.Apply(context.Background(), domain.Mutation{Table: table, Key: key, Columns: cols})
}

type fakeSystemTable struct {
	mu               sync.Mutex
	meta             domain.LocalMetadata
	exists           bool
	failWith         error
	bootstrappedSets int
}

func (s *fakeSystemTable) Load(initial func() (ring.Token, bool)) (domain.LocalMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		s.meta.Token, s.meta.AutoAssigned = initial()
		s.exists = true
	}
	s.meta.Generation++
	out := s.meta
	out.Peers = make(map[string]domain.PeerRecord, len(s.meta.Peers))
	for k, v := range s.meta.Peers {
		out.Peers[k] = v
	}
	return out, nil
}

func (s *fakeSystemTable) UpdateLocalToken(token ring.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.meta.Token = token
	s.meta.AutoAssigned = false
	return nil
}

func (s *fakeSystemTable) UpdatePeerToken(ep ring.EndPoint, token ring.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if s.meta.Peers == nil {
		s.meta.Peers = make(map[string]domain.PeerRecord)
	}
	s.meta.Peers[ep.Host] = domain.PeerRecord{EndPoint: ep, Token: token}
	return nil
}

func (s *fakeSystemTable) RemovePeer(ep ring.EndPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta.Peers, ep.Host)
	return nil
}

func (s *fakeSystemTable) SetBootstrapped(b bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Bootstrapped = b
	s.bootstrappedSets++
	return nil
}

func (s *fakeSystemTable) snapshot() domain.LocalMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

type memHints struct {
	mu    sync.Mutex
	hints map[string][]domain.Hint
}

func newMemHints() *memHints { return &memHints{hints: make(map[string][]domain.Hint)} }

func (m *memHints) Add(_ context.Context, h domain.Hint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hints[h.Target.Host] = append(m.hints[h.Target.Host], h)
	return nil
}

func (m *memHints) List(_ context.Context, target string) ([]domain.Hint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.Hint(nil), m.hints[target]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memHints) Delete(_ context.Context, target string, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := m.hints[target][:0]
	for _, h := range m.hints[target] {
		if _, ok := drop[h.ID]; !ok {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(m.hints, target)
		return nil
	}
	m.hints[target] = kept
	return nil
}

func (m *memHints) Targets(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.hints))
	for host := range m.hints {
		out = append(out, host)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memHints) count(host string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hints[host])
}

type harness struct {
	dir     *NodeDirectory
	gossip  *fakeGossiper
	engine  *fakeEngine
	system  *fakeSystemTable
	hints   *memHints
	peers   *mocks.MockPeerClient
	fatals  chan error
	ctrl    *gomock.Controller
	dataDir string
}

type harnessOption func(*Options)

// newHarness builds a directory for local with replication factor rf. The
// directory is not started.
func newHarness(t *testing.T, local string, rf int, opts ...harnessOption) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	dataDir := t.TempDir()

	h := &harness{
		gossip:  newFakeGossiper(ep(local)),
		engine:  newFakeEngine(dataDir, "default"),
		system:  &fakeSystemTable{},
		hints:   newMemHints(),
		peers:   mocks.NewMockPeerClient(ctrl),
		fatals:  make(chan error, 4),
		ctrl:    ctrl,
		dataDir: dataDir,
	}

	strategy, err := ring.NewStrategy(ring.StrategyRackUnaware, ring.StrategyParams{ReplicationFactor: rf})
	require.NoError(t, err)
	ids, err := idgen.New(1, &idgen.SystemClock{})
	require.NoError(t, err)

	o := Options{
		RPCTimeout:            200 * time.Millisecond,
		BootstrapRetryBackoff: 10 * time.Millisecond,
		HintDeliveryInterval:  time.Hour,
		LoadBroadcastInterval: time.Hour,
		MaxWriteRetries:       1,
		OnFatal:               func(err error) { h.fatals <- err },
	}
	for _, opt := range opts {
		opt(&o)
	}

	h.dir, err = NewNodeDirectory(Deps{
		Gossiper:    h.gossip,
		Peers:       h.peers,
		Engine:      h.engine,
		System:      h.system,
		Hints:       h.hints,
		HintIDs:     ids,
		Partitioner: numericPartitioner{},
		Strategy:    strategy,
	}, o)
	require.NoError(t, err)
	t.Cleanup(h.dir.Stop)
	return h
}

// join places a live normal peer on the ring without going through gossip.
func (h *harness) join(host string, token ring.Token) {
	h.gossip.setPeer(ep(host), true, nil)
	h.dir.ringMeta.Update(token, ep(host), false)
}

// startLocal starts the directory as a seed at token.
func (h *harness) startLocal(t *testing.T, token string) {
	t.Helper()
	h.gossip.seed = true
	h.dir.opts.InitialToken = token
	require.NoError(t, h.dir.Start(context.Background()))
}

func tokenState(token string) gossip.EndPointState {
	return gossip.EndPointState{
		Alive:  true,
		States: map[string]gossip.ApplicationState{gossip.StateToken: {Value: token, Version: 1}},
	}
}

func hosts(eps []ring.EndPoint) []string {
	out := make([]string, len(eps))
	for i, e := range eps {
		out[i] = e.Host
	}
	return out
}
