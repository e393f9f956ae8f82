package relaygrpc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/server"
	"github.com/blockberries/relay/types"
)

// Compile-time interface check.
var _ RelayServiceServer = (*GRPCServer)(nil)

// GRPCServer serves a relay application over gRPC. Domain types are
// serialized directly via cramberry.
type GRPCServer struct {
	srv *server.Server
	log *zap.Logger
}

// NewGRPCServer creates a gRPC server wrapping app. opts configure the
// lifecycle server; its logger is reused for RPC logging.
func NewGRPCServer(app relay.Lifecycle, log *zap.Logger, opts ...server.Option) (*GRPCServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	srv, err := server.New(app, append([]server.Option{server.WithLogger(log)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &GRPCServer{srv: srv, log: log.Named("grpc")}, nil
}

// Register adds the relay service to a gRPC server.
func (s *GRPCServer) Register(gs *grpc.Server) {
	RegisterRelayServiceServer(gs, s)
}

// NewServer returns a gRPC server with the relay service registered
// and RPC logging installed.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logUnary))
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Serve starts the gRPC server on the given listener.
func (s *GRPCServer) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	return s.NewServer(opts...).Serve(lis)
}

// Server returns the underlying lifecycle server.
func (s *GRPCServer) Server() *server.Server {
	return s.srv
}

func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start))}
	if err != nil {
		s.log.Warn("rpc failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Debug("rpc", fields...)
	}
	return resp, err
}

// toStatus maps a halt to codes.Aborted with the height in the
// trailer, so clients can rebuild the relay.HaltError.
func toStatus(ctx context.Context, err error) error {
	if h, ok := relay.IsHalt(err); ok {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(haltHeightKey, strconv.FormatUint(h.Height, 10)))
		return status.Error(codes.Aborted, h.Reason)
	}
	if errors.Is(err, server.ErrOutOfOrder) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return err
}

// --- Lifecycle RPCs ---

func (s *GRPCServer) Handshake(ctx context.Context, req *types.HandshakeRequest) (*types.HandshakeResponse, error) {
	resp, err := s.srv.Handshake(ctx, *req)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &resp, nil
}

func (s *GRPCServer) CheckTx(ctx context.Context, req *CheckTxRequest) (*types.GateVerdict, error) {
	verdict, err := s.srv.CheckTx(ctx, req.Tx, req.Context)
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

func (s *GRPCServer) ExecuteBlock(ctx context.Context, block *types.FinalizedBlock) (*types.BlockOutcome, error) {
	outcome, err := s.srv.ExecuteBlock(ctx, *block)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &outcome, nil
}

func (s *GRPCServer) Commit(ctx context.Context, _ *CommitRequest) (*types.CommitResult, error) {
	result, err := s.srv.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *GRPCServer) Query(ctx context.Context, req *types.StateQuery) (*types.StateQueryResult, error) {
	result, err := s.srv.Query(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// --- Simulator RPC ---

func (s *GRPCServer) Simulate(ctx context.Context, req *SimulateRequest) (*types.TxOutcome, error) {
	outcome, err := s.srv.Simulate(ctx, req.Tx)
	if err != nil {
		return nil, status.Error(codes.Unimplemented, err.Error())
	}
	return &outcome, nil
}

// --- Record stream ---

func (s *GRPCServer) Records(req *RecordsRequest, stream grpc.ServerStream) error {
	ch, err := s.srv.Records(stream.Context(), req.From)
	if err != nil {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	for batch := range ch {
		if err := stream.SendMsg(&batch); err != nil {
			return err
		}
	}
	return stream.Context().Err()
}
