package grpc_handler

import (
	"context"
	"errors"
	"io"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/internal/node/service"
	"github.com/anthanhphan/go-distributed-kv/pkg/peerv1"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements the node-to-node peer service.
type Server struct {
	peerv1.UnimplementedPeerServiceServer
	service port.PeerService
}

// NewServer creates a new peer service handler.
func NewServer(svc port.PeerService) *Server {
	return &Server{service: svc}
}

// Register attaches the handler to s.
func (s *Server) Register(gs *grpc.Server) {
	peerv1.RegisterPeerServiceServer(gs, s)
}

func (s *Server) ApplyMutation(ctx context.Context, req *peerv1.ApplyMutationRequest) (*peerv1.ApplyMutationResponse, error) {
	if req.Table == "" || req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "table and key are required")
	}
	m := domain.Mutation{Table: req.Table, Key: req.Key, Columns: make([]domain.Column, len(req.Columns))}
	for i, c := range req.Columns {
		m.Columns[i] = domain.Column(c)
	}

	var hintFor *ring.EndPoint
	if req.HintFor != nil {
		ep := req.HintFor.RingEndPoint()
		hintFor = &ep
	}
	if err := s.service.ApplyLocal(ctx, m, hintFor); err != nil {
		return nil, toStatus(err)
	}
	return &peerv1.ApplyMutationResponse{Hinted: hintFor != nil}, nil
}

func (s *Server) ReadRow(ctx context.Context, req *peerv1.ReadRowRequest) (*peerv1.ReadRowResponse, error) {
	row, err := s.service.ReadLocal(ctx, domain.ReadCommand{Table: req.Table, Key: req.Key})
	if errors.Is(err, port.ErrRowNotFound) {
		return &peerv1.ReadRowResponse{Found: false}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &peerv1.ReadRowResponse{Found: true, Columns: wireColumns(row)}, nil
}

func (s *Server) ReadDigest(ctx context.Context, req *peerv1.ReadDigestRequest) (*peerv1.ReadDigestResponse, error) {
	digest, found, err := s.service.DigestLocal(ctx, domain.ReadCommand{Table: req.Table, Key: req.Key})
	if err != nil {
		return nil, toStatus(err)
	}
	return &peerv1.ReadDigestResponse{Found: found, Digest: digest}, nil
}

func (s *Server) GetSplits(_ context.Context, req *peerv1.GetSplitsRequest) (*peerv1.GetSplitsResponse, error) {
	tokens, err := s.service.GetSplits(req.Count)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = s.service.Partitioner().TokenToString(t)
	}
	return &peerv1.GetSplitsResponse{Tokens: out}, nil
}

func (s *Server) FetchRange(req *peerv1.FetchRangeRequest, stream grpc.ServerStreamingServer[peerv1.FetchRangeResponse]) error {
	ranges, err := peerv1.RingRanges(req.Ranges)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid range: %v", err)
	}

	sent := 0
	err = s.service.StreamRanges(stream.Context(), ranges, func(row *domain.Row) error {
		sent++
		return stream.Send(&peerv1.FetchRangeResponse{Table: row.Table, Key: row.Key, Columns: wireColumns(row)})
	})
	if err != nil {
		logger.Warnw("FetchRange aborted", "ranges", len(ranges), "sent", sent, "error", err.Error())
		return toStatus(err)
	}
	logger.Debugw("FetchRange served", "ranges", len(ranges), "rows", sent)
	return nil
}

// Handoff receives a manifest followed by file chunks and replies once the
// files are imported.
func (s *Server) Handoff(stream grpc.ClientStreamingServer[peerv1.HandoffRequest, peerv1.HandoffResponse]) error {
	first, err := stream.Recv()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "failed to read handoff manifest: %v", err)
	}
	if first.SessionID == "" {
		return status.Error(codes.InvalidArgument, "session id is required")
	}

	manifest := make([]domain.HandoffFile, len(first.Manifest))
	for i, e := range first.Manifest {
		manifest[i] = domain.HandoffFile{Path: e.Path, Length: e.Length, Table: e.Table}
	}

	next := func() (domain.HandoffChunk, error) {
		msg, err := stream.Recv()
		if err != nil {
			return domain.HandoffChunk{}, err
		}
		return domain.HandoffChunk{File: msg.File, Data: msg.Data}, nil
	}

	res, err := s.service.AcceptHandoff(stream.Context(), first.SessionID, manifest, next)
	if err != nil {
		logger.Warnw("Handoff rejected", "session_id", first.SessionID, "error", err.Error())
		return toStatus(err)
	}
	return stream.SendAndClose(&peerv1.HandoffResponse{SessionID: res.SessionID, Files: res.Files, Bytes: res.Bytes})
}

func wireColumns(row *domain.Row) []peerv1.Column {
	cols := row.SortedColumns()
	out := make([]peerv1.Column, len(cols))
	for i, c := range cols {
		out[i] = peerv1.Column(c)
	}
	return out
}

// toStatus maps service errors onto grpc codes the peer client understands.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, port.ErrRowNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, port.ErrTableNotFound):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrEmptyMutation), errors.Is(err, service.ErrInvalidSplitCount):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrUnavailable), errors.Is(err, service.ErrEmptyRing):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, io.ErrUnexpectedEOF):
		return status.Error(codes.DataLoss, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
