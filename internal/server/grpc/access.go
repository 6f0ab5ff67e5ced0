package grpcserver

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/guard"
)

// Access service method names.
const (
	AccessServiceName = "practigate.v1.Access"
	WhoamiMethod      = "/" + AccessServiceName + "/Whoami"
	CheckMethod       = "/" + AccessServiceName + "/Check"
)

// AccessService reports who the caller is and whether a policy admits them.
// Messages are well-known types, so no generated stubs are involved.
type AccessService interface {
	Whoami(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// AccessServer implements AccessService over the claims attached by Authorizer.
type AccessServer struct{}

var _ AccessService = (*AccessServer)(nil)

// AccessPolicies guards the Access service: Whoami requires a principal, Check is open.
func AccessPolicies() MethodPolicies {
	return MethodPolicies{WhoamiMethod: {}}
}

// Whoami returns the caller's claims.
func (AccessServer) Whoami(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	c, ok := ClaimsFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "sign in required")
	}
	return structpb.NewStruct(map[string]any{
		"subject":             c.Subject,
		"email":               c.Email,
		"role":                string(c.Role),
		"verification_status": string(c.VerificationStatus),
		"assurance_level":     string(c.AssuranceLevel),
	})
}

// Check evaluates the policy in `in` against the caller's claims.
// Fields: roles (list of strings), require_verified, require_elevated.
func (AccessServer) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := PolicyFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	c, _ := ClaimsFromCtx(ctx)
	code := guard.Check(c, p)
	target := ""
	if code != guard.None {
		target = guard.DefaultTarget(code, "")
	}
	return structpb.NewStruct(map[string]any{
		"authorized": code == guard.None,
		"code":       code.String(),
		"target":     target,
	})
}

// PolicyFromStruct decodes a policy. Unknown roles are rejected.
func PolicyFromStruct(in *structpb.Struct) (guard.Policy, error) {
	var p guard.Policy
	f := in.GetFields()
	if v, ok := f["roles"]; ok {
		for _, r := range v.GetListValue().GetValues() {
			role, err := claims.ParseRole(r.GetStringValue())
			if err != nil {
				return guard.Policy{}, err
			}
			p.Roles = append(p.Roles, role)
		}
	}
	p.RequireVerified = f["require_verified"].GetBoolValue()
	p.RequireElevatedAssurance = f["require_elevated"].GetBoolValue()
	return p, nil
}

// PolicyStruct is the inverse of PolicyFromStruct, for clients.
func PolicyStruct(p guard.Policy) (*structpb.Struct, error) {
	roles := make([]any, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, string(r))
	}
	return structpb.NewStruct(map[string]any{
		"roles":            roles,
		"require_verified": p.RequireVerified,
		"require_elevated": p.RequireElevatedAssurance,
	})
}

// RegisterAccessServer attaches srv to s.
func RegisterAccessServer(s grpc.ServiceRegistrar, srv AccessService) {
	s.RegisterService(&accessServiceDesc, srv)
}

var accessServiceDesc = grpc.ServiceDesc{
	ServiceName: AccessServiceName,
	HandlerType: (*AccessService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Whoami", Handler: whoamiHandler},
		{MethodName: "Check", Handler: checkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "practigate/v1/access.proto",
}

func whoamiHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessService).Whoami(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WhoamiMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessService).Whoami(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessService).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessService).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AccessClient calls the Access service.
type AccessClient struct {
	cc grpc.ClientConnInterface
}

// NewAccessClient wraps cc.
func NewAccessClient(cc grpc.ClientConnInterface) *AccessClient {
	return &AccessClient{cc: cc}
}

// Whoami returns the caller's claims as a struct.
func (c *AccessClient) Whoami(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, WhoamiMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Check asks whether p admits the caller.
func (c *AccessClient) Check(ctx context.Context, p guard.Policy, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := PolicyStruct(p)
	if err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CheckMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
