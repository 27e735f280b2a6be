package server

import (
	"EscrowLedger/internal/query"
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "escrow.v1.EscrowService"

// EscrowServer is the server API of escrow.v1.EscrowService. Messages
// travel as JSON, see JSONCodecName.
type EscrowServer interface {
	InitializeVault(context.Context, *InitializeVaultRequest) (*CommandResponse, error)
	OpenUserAccount(context.Context, *OpenUserAccountRequest) (*CommandResponse, error)
	Deposit(context.Context, *DepositRequest) (*CommandResponse, error)
	Settle(context.Context, *SettleRequest) (*CommandResponse, error)
	FundAccount(context.Context, *FundAccountRequest) (*CommandResponse, error)

	GetVault(context.Context, *GetVaultRequest) (*query.VaultResponse, error)
	GetUser(context.Context, *GetUserRequest) (*query.UserResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceResponse, error)
	ListSettlements(context.Context, *ListSettlementsRequest) (*ListSettlementsResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)

	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	GetEventLogInfo(context.Context, *GetEventLogInfoRequest) (*EventLogInfo, error)
}

// EscrowServiceDesc is registered with grpc.Server.RegisterService.
var EscrowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EscrowServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("InitializeVault", EscrowServer.InitializeVault),
		unary("OpenUserAccount", EscrowServer.OpenUserAccount),
		unary("Deposit", EscrowServer.Deposit),
		unary("Settle", EscrowServer.Settle),
		unary("FundAccount", EscrowServer.FundAccount),
		unary("GetVault", EscrowServer.GetVault),
		unary("GetUser", EscrowServer.GetUser),
		unary("GetBalance", EscrowServer.GetBalance),
		unary("ListSettlements", EscrowServer.ListSettlements),
		unary("ListJournals", EscrowServer.ListJournals),
		unary("VerifyIntegrity", EscrowServer.VerifyIntegrity),
		unary("GetEventLogInfo", EscrowServer.GetEventLogInfo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "escrow/v1/escrow.json",
}

// FullMethod returns the gRPC method path of name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(EscrowServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			if interceptor == nil {
				return call(srv.(EscrowServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(EscrowServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// EscrowClient calls escrow.v1.EscrowService over conn with the JSON codec.
type EscrowClient struct {
	conn grpc.ClientConnInterface
}

func NewEscrowClient(conn grpc.ClientConnInterface) *EscrowClient {
	return &EscrowClient{conn: conn}
}

// Invoke calls method name, decoding the reply into out.
func (c *EscrowClient) Invoke(ctx context.Context, name string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.conn.Invoke(ctx, FullMethod(name), in, out, opts...)
}
