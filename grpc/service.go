package relaygrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/blockberries/relay/types"
)

const serviceName = "relay.v1.RelayService"

// RelayServiceServer is the server-side interface of the relay gRPC
// service.
type RelayServiceServer interface {
	Handshake(context.Context, *types.HandshakeRequest) (*types.HandshakeResponse, error)
	CheckTx(context.Context, *CheckTxRequest) (*types.GateVerdict, error)
	ExecuteBlock(context.Context, *types.FinalizedBlock) (*types.BlockOutcome, error)
	Commit(context.Context, *CommitRequest) (*types.CommitResult, error)
	Query(context.Context, *types.StateQuery) (*types.StateQueryResult, error)
	Simulate(context.Context, *SimulateRequest) (*types.TxOutcome, error)
	Records(*RecordsRequest, grpc.ServerStream) error
}

// RegisterRelayServiceServer registers srv on a gRPC server.
func RegisterRelayServiceServer(s *grpc.Server, srv RelayServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// unary builds the handler of method: it decodes a Req and calls fn,
// through the server's interceptor when one is installed.
func unary[Req any](method string, fn func(RelayServiceServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	h := func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(RelayServiceServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
			return fn(srv.(RelayServiceServer), ctx, r.(*Req))
		})
	}
	return grpc.MethodDesc{MethodName: method, Handler: h}
}

func handlerRecords(srv any, stream grpc.ServerStream) error {
	req := new(RecordsRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(RelayServiceServer).Records(req, stream)
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RelayServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Handshake", func(s RelayServiceServer, ctx context.Context, r *types.HandshakeRequest) (any, error) {
			return s.Handshake(ctx, r)
		}),
		unary("CheckTx", func(s RelayServiceServer, ctx context.Context, r *CheckTxRequest) (any, error) {
			return s.CheckTx(ctx, r)
		}),
		unary("ExecuteBlock", func(s RelayServiceServer, ctx context.Context, r *types.FinalizedBlock) (any, error) {
			return s.ExecuteBlock(ctx, r)
		}),
		unary("Commit", func(s RelayServiceServer, ctx context.Context, r *CommitRequest) (any, error) {
			return s.Commit(ctx, r)
		}),
		unary("Query", func(s RelayServiceServer, ctx context.Context, r *types.StateQuery) (any, error) {
			return s.Query(ctx, r)
		}),
		unary("Simulate", func(s RelayServiceServer, ctx context.Context, r *SimulateRequest) (any, error) {
			return s.Simulate(ctx, r)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Records",
			Handler:       handlerRecords,
			ServerStreams: true,
		},
	},
	Metadata: "relay/v1/service.cram",
}
