package grpctransport

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "raftsim.RaftTransport"

	methodRequestVote     = "/raftsim.RaftTransport/RequestVote"
	methodAppendEntries   = "/raftsim.RaftTransport/AppendEntries"
	methodInstallSnapshot = "/raftsim.RaftTransport/InstallSnapshot"
)

// rawRPCServer is implemented by rpcServer and registered against a
// *grpc.Server through serviceDesc below, in place of code a .proto
// compiler would otherwise generate.
type rawRPCServer interface {
	RequestVote(ctx context.Context, in *[]byte) (*[]byte, error)
	AppendEntries(ctx context.Context, in *[]byte) (*[]byte, error)
	InstallSnapshot(ctx context.Context, in *[]byte) (*[]byte, error)
}

func registerRawHandler(method string, fn func(rawRPCServer, context.Context, *[]byte) (*[]byte, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: methodShortName(method),
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new([]byte)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(rawRPCServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(s, ctx, req.(*[]byte))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func methodShortName(full string) string {
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '/' {
			return full[i+1:]
		}
	}
	return full
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*rawRPCServer)(nil),
	Methods: []grpc.MethodDesc{
		registerRawHandler(methodRequestVote, rawRPCServer.RequestVote),
		registerRawHandler(methodAppendEntries, rawRPCServer.AppendEntries),
		registerRawHandler(methodInstallSnapshot, rawRPCServer.InstallSnapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftsim.proto",
}
