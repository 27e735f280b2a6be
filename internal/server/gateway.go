package server

import (
	"EscrowLedger/internal/auth"
	"EscrowLedger/internal/identity"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Handler returns the HTTP/JSON API plus /healthz and /readyz. Routes
// call the EscrowService in process with the same auth and error mapping
// as gRPC.
func (s *GRPCServer) Handler() http.Handler {
	gw := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{"POST", "/v1/vault", route(s, EscrowServer.InitializeVault, nil)},
		{"POST", "/v1/users", route(s, EscrowServer.OpenUserAccount, nil)},
		{"POST", "/v1/deposits", route(s, EscrowServer.Deposit, nil)},
		{"POST", "/v1/settlements", route(s, EscrowServer.Settle, nil)},
		{"POST", "/v1/funding", route(s, EscrowServer.FundAccount, nil)},

		{"GET", "/v1/vault", route(s, EscrowServer.GetVault, nil)},
		{"GET", "/v1/users/{user}", route(s, EscrowServer.GetUser, func(req *GetUserRequest, _ *http.Request, p map[string]string) error {
			return pathIdentity(p, "user", &req.User)
		})},
		{"GET", "/v1/balances/{account}", route(s, EscrowServer.GetBalance, func(req *GetBalanceRequest, _ *http.Request, p map[string]string) error {
			return pathIdentity(p, "account", &req.Account)
		})},
		{"GET", "/v1/users/{user}/settlements", route(s, EscrowServer.ListSettlements, func(req *ListSettlementsRequest, r *http.Request, p map[string]string) error {
			if err := pathIdentity(p, "user", &req.User); err != nil {
				return err
			}
			return pageParams(r, &req.Limit, &req.BeforeSequence)
		})},
		{"GET", "/v1/accounts/{account}/journals", route(s, EscrowServer.ListJournals, func(req *ListJournalsRequest, r *http.Request, p map[string]string) error {
			if err := pathIdentity(p, "account", &req.Account); err != nil {
				return err
			}
			return pageParams(r, &req.Limit, &req.BeforeSequence)
		})},

		{"GET", "/v1/admin/integrity", route(s, EscrowServer.VerifyIntegrity, nil)},
		{"GET", "/v1/admin/event-log", route(s, EscrowServer.GetEventLogInfo, nil)},
	}
	for _, rt := range routes {
		if err := gw.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			// patterns are static
			panic(fmt.Sprintf("register %s %s: %v", rt.method, rt.pattern, err))
		}
	}

	mux := http.NewServeMux()
	if s.healthChecker != nil {
		s.healthChecker.Register(mux)
	}
	mux.Handle("/", gw)
	return mux
}

func route[Req, Resp any](
	s *GRPCServer,
	call func(EscrowServer, context.Context, *Req) (*Resp, error),
	bind func(req *Req, r *http.Request, params map[string]string) error,
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		id, err := s.authenticator.Authenticate(r)
		if err != nil {
			writeError(w, status.Error(codes.Unauthenticated, "invalid token"))
			return
		}

		in := new(Req)
		if r.Method != http.MethodGet {
			if err := json.NewDecoder(r.Body).Decode(in); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
				return
			}
		}
		if bind != nil {
			if err := bind(in, r, params); err != nil {
				writeError(w, status.Error(codes.InvalidArgument, err.Error()))
				return
			}
		}

		resp, err := call(s.service, auth.WithCaller(r.Context(), id), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func pathIdentity(params map[string]string, name string, dst *identity.Identity) error {
	id, err := identity.Parse(params[name])
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = id
	return nil
}

func pageParams(r *http.Request, limit *int, before **int64) error {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		*limit = n
	}
	if v := q.Get("before_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("before_sequence: %w", err)
		}
		*before = &n
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
