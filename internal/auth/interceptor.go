package auth

import (
	"EscrowLedger/internal/identity"
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Metadata keys and the HTTP header a token may arrive in.
const (
	AuthorizationHeader = "authorization"
	AccessTokenHeader   = "access_token"
)

type ctxKey string

const callerKey ctxKey = "caller"

// WithCaller stores the authenticated caller in ctx.
func WithCaller(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, callerKey, id)
}

// CallerFromContext returns the caller set by the interceptor.
func CallerFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(callerKey).(identity.Identity)
	return id, ok
}

// Authenticator verifies bearer tokens on the gRPC and HTTP surfaces.
type Authenticator struct {
	secret []byte
	public map[string]bool
}

// NewAuthenticator builds an Authenticator. publicMethods are full gRPC
// method names served without a token.
func NewAuthenticator(secret []byte, publicMethods ...string) *Authenticator {
	public := make(map[string]bool, len(publicMethods))
	for _, m := range publicMethods {
		public[m] = true
	}
	return &Authenticator{secret: secret, public: public}
}

// UnaryInterceptor rejects calls without a valid token with
// codes.Unauthenticated and stores the caller for the handler.
func (a *Authenticator) UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if a.public[info.FullMethod] {
		return handler(ctx, req)
	}

	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(AuthorizationHeader); len(values) > 0 {
			token = bearer(values[0])
		} else if values := md.Get(AccessTokenHeader); len(values) > 0 {
			token = values[0]
		}
	}
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	caller, err := IdentityFromToken(token, a.secret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(WithCaller(ctx, caller), req)
}

// Authenticate verifies the bearer token of an HTTP request.
func (a *Authenticator) Authenticate(r *http.Request) (identity.Identity, error) {
	token := bearer(r.Header.Get(AuthorizationHeader))
	if token == "" {
		token = r.Header.Get(AccessTokenHeader)
	}
	if token == "" {
		return identity.Zero, ErrInvalidToken
	}
	return IdentityFromToken(token, a.secret)
}

// IdentityFromBearer verifies a header value carrying a token, with or
// without the Bearer prefix. The NATS command pump uses it.
func IdentityFromBearer(value string, secretKey []byte) (identity.Identity, error) {
	token := bearer(value)
	if token == "" {
		return identity.Zero, ErrInvalidToken
	}
	return IdentityFromToken(token, secretKey)
}

func bearer(v string) string {
	const prefix = "bearer "
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return strings.TrimSpace(v[len(prefix):])
	}
	return strings.TrimSpace(v)
}
