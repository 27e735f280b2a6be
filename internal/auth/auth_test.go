package auth

import (
	"EscrowLedger/internal/identity"
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var secret = []byte("test-secret")

func backendID() identity.Identity {
	var id identity.Identity
	id[0], id[31] = 2, 9
	return id
}

func TestToken_RoundTrip(t *testing.T) {
	tok, err := GenerateToken(backendID(), secret, time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	id, err := IdentityFromToken(tok, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != backendID() {
		t.Fatalf("identity: got %s, want %s", id, backendID())
	}
}

func TestToken_Rejections(t *testing.T) {
	expired, _ := GenerateToken(backendID(), secret, -time.Minute)
	otherKey, _ := GenerateToken(backendID(), []byte("other"), time.Minute)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: backendID().String()},
	}).SignedString(secret)

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "backend",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString(secret)

	nullSubject, _ := GenerateToken(identity.Zero, secret, time.Minute)

	tests := map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"no expiry":    noExpiry,
		"bad subject":  badSubject,
		"null subject": nullSubject,
		"garbage":      "not-a-jwt",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := IdentityFromToken(tok, secret)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestInterceptor_PublicMethodSkipsAuth(t *testing.T) {
	a := NewAuthenticator(secret, "/grpc.health.v1.Health/Check")
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	called := false
	_, err := a.UnaryInterceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return nil, nil
	})
	if err != nil || !called {
		t.Fatalf("public method: err=%v called=%v", err, called)
	}
}

func TestInterceptor_MissingToken(t *testing.T) {
	a := NewAuthenticator(secret)
	info := &grpc.UnaryServerInfo{FullMethod: "/escrow.v1.EscrowService/Settle"}

	_, err := a.UnaryInterceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "missing token" {
		t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_ValidToken_SetsCaller(t *testing.T) {
	a := NewAuthenticator(secret)
	tok, _ := GenerateToken(backendID(), secret, time.Minute)

	for _, md := range []metadata.MD{
		metadata.New(map[string]string{AuthorizationHeader: "Bearer " + tok}),
		metadata.New(map[string]string{AccessTokenHeader: tok}),
	} {
		ctx := metadata.NewIncomingContext(context.Background(), md)
		info := &grpc.UnaryServerInfo{FullMethod: "/escrow.v1.EscrowService/Settle"}

		var got identity.Identity
		_, err := a.UnaryInterceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			var ok bool
			got, ok = CallerFromContext(ctx)
			if !ok {
				t.Fatal("caller not in context")
			}
			return nil, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != backendID() {
			t.Fatalf("caller: got %s", got)
		}
	}
}

func TestAuthenticate_HTTP(t *testing.T) {
	a := NewAuthenticator(secret)
	tok, _ := GenerateToken(backendID(), secret, time.Minute)

	r := httptest.NewRequest("POST", "/v1/settlements", nil)
	if _, err := a.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("missing header: got %v", err)
	}

	r.Header.Set("Authorization", "bearer "+tok)
	id, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id != backendID() {
		t.Fatalf("caller: got %s", id)
	}
}
