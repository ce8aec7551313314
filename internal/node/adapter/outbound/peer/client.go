package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/peerv1"
	"github.com/anthanhphan/go-distributed-kv/pkg/resilience"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
)

const maxMsgSize = 16 * 1024 * 1024

var _ port.PeerClient = (*Client)(nil)

// localError marks failures raised by the caller's callback rather than the peer.
type localError struct{ err error }

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

type Options struct {
	// Target maps an endpoint to a grpc dial target. Defaults to host:storage_port.
	Target      func(ring.EndPoint) string
	DialOptions []grpc.DialOption
	Breaker     resilience.CircuitBreakerConfig
}

// Client calls the peer service of other nodes, one connection and one
// circuit breaker per peer.
type Client struct {
	target   func(ring.EndPoint) string
	dialOpts []grpc.DialOption
	breakers *resilience.BreakerSet

	mu      sync.RWMutex
	clients map[string]peerv1.PeerServiceClient
	conns   map[string]*grpc.ClientConn
}

func NewClient(opts Options) *Client {
	if opts.Target == nil {
		opts.Target = func(ep ring.EndPoint) string { return ep.StorageAddr() }
	}
	breaker := opts.Breaker
	if breaker.FailureThreshold == 0 {
		breaker = resilience.CircuitBreakerConfig{
			FailureThreshold:  3,
			SuccessThreshold:  2,
			OpenTimeout:       10 * time.Second,
			HalfOpenMaxFlight: 5,
		}
	}
	breaker.IsFailure = isPeerFailure

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	}, opts.DialOptions...)

	return &Client{
		target:   opts.Target,
		dialOpts: dialOpts,
		breakers: resilience.NewBreakerSet(breaker),
		clients:  make(map[string]peerv1.PeerServiceClient),
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// isPeerFailure keeps answers about data and caller mistakes from tripping the breaker.
func isPeerFailure(err error) bool {
	var le *localError
	if errors.As(err, &le) {
		return false
	}
	if errors.Is(err, port.ErrRowNotFound) || errors.Is(err, port.ErrTableNotFound) {
		return false
	}
	return resilience.RemoteFailure(err)
}

func (c *Client) call(ctx context.Context, ep ring.EndPoint, op string, fn func(context.Context, peerv1.PeerServiceClient) error) error {
	key := ep.Host
	err := c.breakers.Execute(ctx, key, func(execCtx context.Context) error {
		client, err := c.getClient(ep)
		if err != nil {
			return err
		}
		return normalizeRPCErr(execCtx, fn(execCtx, client))
	})
	if err != nil {
		c.handleRPCErr(ep, err, op)
		var le *localError
		if errors.As(err, &le) {
			return le.err
		}
		return fromStatus(err)
	}
	return nil
}

func (c *Client) ApplyMutation(ctx context.Context, target ring.EndPoint, m domain.Mutation, hintFor *ring.EndPoint) error {
	req := &peerv1.ApplyMutationRequest{Table: m.Table, Key: m.Key, Columns: toWire(m.Columns)}
	if hintFor != nil {
		req.HintFor = peerv1.EndPointFrom(*hintFor)
	}
	return c.call(ctx, target, "ApplyMutation", func(ctx context.Context, pc peerv1.PeerServiceClient) error {
		_, err := pc.ApplyMutation(ctx, req)
		return err
	})
}

func (c *Client) ReadRow(ctx context.Context, target ring.EndPoint, cmd domain.ReadCommand) (*domain.Row, error) {
	var resp *peerv1.ReadRowResponse
	err := c.call(ctx, target, "ReadRow", func(ctx context.Context, pc peerv1.PeerServiceClient) error {
		var err error
		resp, err = pc.ReadRow(ctx, &peerv1.ReadRowRequest{Table: cmd.Table, Key: cmd.Key})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, port.ErrRowNotFound
	}
	return toRow(cmd.Table, cmd.Key, resp.Columns), nil
}

func (c *Client) ReadDigest(ctx context.Context, target ring.EndPoint, cmd domain.ReadCommand) (uint64, bool, error) {
	var resp *peerv1.ReadDigestResponse
	err := c.call(ctx, target, "ReadDigest", func(ctx context.Context, pc peerv1.PeerServiceClient) error {
		var err error
		resp, err = pc.ReadDigest(ctx, &peerv1.ReadDigestRequest{Table: cmd.Table, Key: cmd.Key})
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return resp.Digest, resp.Found, nil
}

func (c *Client) GetSplits(ctx context.Context, target ring.EndPoint, n int) ([]ring.Token, error) {
	var resp *peerv1.GetSplitsResponse
	err := c.call(ctx, target, "GetSplits", func(ctx context.Context, pc peerv1.PeerServiceClient) error {
		var err error
		resp, err = pc.GetSplits(ctx, &peerv1.GetSplitsRequest{Count: n})
		return err
	})
	if err != nil {
		return nil, err
	}
	tokens := make([]ring.Token, len(resp.Tokens))
	for i, s := range resp.Tokens {
		t, err := ring.ParseToken(s)
		if err != nil {
			return nil, fmt.Errorf("split token from %s: %w", target, err)
		}
		tokens[i] = t
	}
	return tokens, nil
}

func (c *Client) FetchRange(ctx context.Context, source ring.EndPoint, ranges []ring.Range, fn func(*domain.Row) error) error {
	req := &peerv1.FetchRangeRequest{Ranges: peerv1.RangesFrom(ranges)}
	return c.call(ctx, source, "FetchRange", func(ctx context.Context, pc peerv1.PeerServiceClient) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stream, err := pc.FetchRange(ctx, req)
		if err != nil {
			return err
		}
		for {
			msg, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := fn(toRow(msg.Table, msg.Key, msg.Columns)); err != nil {
				return &localError{err: err}
			}
		}
	})
}

func (c *Client) Handoff(ctx context.Context, target ring.EndPoint, sessionID string, manifest []domain.HandoffFile, open func(path string) (io.ReadCloser, error)) (domain.HandoffResult, error) {
	entries := make([]peerv1.ManifestEntry, len(manifest))
	for i, f := range manifest {
		entries[i] = peerv1.ManifestEntry{Path: f.Path, Length: f.Length, Table: f.Table}
	}

	var resp *peerv1.HandoffResponse
	err := c.call(ctx, target, "Handoff", func(ctx context.Context, pc peerv1.PeerServiceClient) error {
		// Cancelling aborts the session on the receiver when a file cannot be sent.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stream, err := pc.Handoff(ctx)
		if err != nil {
			return err
		}
		if err := stream.Send(&peerv1.HandoffRequest{SessionID: sessionID, Manifest: entries}); err != nil {
			return err
		}
		for i, f := range manifest {
			if err := sendFile(stream, i, f, open); err != nil {
				return err
			}
		}
		resp, err = stream.CloseAndRecv()
		return err
	})
	if err != nil {
		return domain.HandoffResult{}, err
	}
	return domain.HandoffResult{SessionID: resp.SessionID, Files: resp.Files, Bytes: resp.Bytes}, nil
}

// chunkWriter turns each Write into one chunk message of file.
type chunkWriter struct {
	stream grpc.ClientStreamingClient[peerv1.HandoffRequest, peerv1.HandoffResponse]
	file   int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if err := w.stream.Send(&peerv1.HandoffRequest{File: w.file, Data: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func sendFile(stream grpc.ClientStreamingClient[peerv1.HandoffRequest, peerv1.HandoffResponse], idx int, f domain.HandoffFile, open func(string) (io.ReadCloser, error)) error {
	rc, err := open(f.Path)
	if err != nil {
		return &localError{err: fmt.Errorf("open %s: %w", f.Path, err)}
	}
	defer func() { _ = rc.Close() }()

	if _, err := io.CopyN(&chunkWriter{stream: stream, file: idx}, rc, f.Length); err != nil {
		if errors.Is(err, io.EOF) {
			return &localError{err: fmt.Errorf("%s shorter than manifest length %d", f.Path, f.Length)}
		}
		return err
	}
	return nil
}

// Forget drops the connection and breaker state of ep.
func (c *Client) Forget(ep ring.EndPoint) {
	c.dropClient(ep.Host)
	c.breakers.Forget(ep.Host)
}

// BreakerStates reports the breaker state per peer host.
func (c *Client) BreakerStates() map[string]resilience.CircuitBreakerState {
	return c.breakers.States()
}

// BreakerStats reports the breaker counters per peer host.
func (c *Client) BreakerStats() map[string]resilience.BreakerStats {
	return c.breakers.Stats()
}

func (c *Client) getClient(ep ring.EndPoint) (peerv1.PeerServiceClient, error) {
	key := ep.Host
	c.mu.RLock()
	client, ok := c.clients[key]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	conn, err := grpc.NewClient(c.target(ep), c.dialOpts...)
	if err != nil {
		return nil, err
	}
	client = peerv1.NewPeerServiceClient(conn)
	c.clients[key] = client
	c.conns[key] = conn
	return client, nil
}

func (c *Client) handleRPCErr(ep ring.EndPoint, err error, op string) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logger.Debugw("Peer RPC short-circuited", "op", op, "peer", ep.Host, "error", err.Error())
		var openErr *resilience.CircuitOpenError
		if errors.As(err, &openErr) && openErr.RetryAfter <= 0 {
			c.dropClient(ep.Host)
		}
		return
	}
	if errors.Is(err, context.Canceled) || !isPeerFailure(err) {
		return
	}
	logger.Warnw("Peer RPC failed", "op", op, "peer", ep.Host, "error", err.Error())
	if status.Code(err) == codes.Unavailable {
		c.dropClient(ep.Host)
	}
}

func (c *Client) dropClient(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[key]; ok {
		_ = conn.Close()
		delete(c.conns, key)
	}
	delete(c.clients, key)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, key)
		delete(c.clients, key)
	}
	return nil
}

func normalizeRPCErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	// gRPC stream operations can surface EOF after caller canceled the context.
	if errors.Is(err, io.EOF) && ctx != nil && errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	return err
}

// fromStatus maps peer status codes onto the local error values.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", port.ErrRowNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", port.ErrTableNotFound, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	}
	return err
}

func toWire(cols []domain.Column) []peerv1.Column {
	out := make([]peerv1.Column, len(cols))
	for i, c := range cols {
		out[i] = peerv1.Column(c)
	}
	return out
}

func toRow(table, key string, cols []peerv1.Column) *domain.Row {
	row := domain.NewRow(table, key)
	for _, c := range cols {
		row.Columns[c.Name] = domain.Column(c)
	}
	return row
}
