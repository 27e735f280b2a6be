package server

import (
	"EscrowLedger/internal/auth"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/query"
	"EscrowLedger/internal/settlement"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var secret = []byte("server-test-secret")

func ident(b byte) identity.Identity {
	var id identity.Identity
	id[0] = b
	return id
}

var (
	backend = ident(2)
	alice   = ident(10)
)

// fakeCommands records the last settle call and answers with result/err.
type fakeCommands struct {
	result core.Result
	err    error

	lastCaller identity.Identity
	lastUser   identity.Identity
	lastMode   settlement.Mode
	lastID     string
}

func (f *fakeCommands) InitializeVault(_ context.Context, id string, caller, _, _ identity.Identity) (core.Result, error) {
	f.lastID, f.lastCaller = id, caller
	return f.result, f.err
}

func (f *fakeCommands) OpenUserAccount(_ context.Context, id string, caller identity.Identity) (core.Result, error) {
	f.lastID, f.lastCaller = id, caller
	return f.result, f.err
}

func (f *fakeCommands) Deposit(_ context.Context, id string, caller identity.Identity, _ uint64) (core.Result, error) {
	f.lastID, f.lastCaller = id, caller
	return f.result, f.err
}

func (f *fakeCommands) Settle(_ context.Context, id string, caller, user identity.Identity, _ uint64, _ int64, mode settlement.Mode) (core.Result, error) {
	f.lastID, f.lastCaller, f.lastUser, f.lastMode = id, caller, user, mode
	return f.result, f.err
}

func (f *fakeCommands) Fund(_ context.Context, id string, caller, _ identity.Identity, _ uint64) (core.Result, error) {
	f.lastID, f.lastCaller = id, caller
	return f.result, f.err
}

type fakeReads struct {
	vault *query.VaultResponse
	err   error

	lastLimit  int
	lastBefore *int64
}

func (f *fakeReads) GetVault(context.Context) (*query.VaultResponse, error) {
	return f.vault, f.err
}

func (f *fakeReads) GetUser(_ context.Context, u identity.Identity) (*query.UserResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &query.UserResponse{User: u.String(), AsOfSequence: 4}, nil
}

func (f *fakeReads) GetBalance(_ context.Context, a identity.Identity) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{Account: a.String(), Role: "user"}, f.err
}

func (f *fakeReads) GetSettlements(_ context.Context, u identity.Identity, limit int, before *int64) ([]query.SettlementResponse, error) {
	f.lastLimit, f.lastBefore = limit, before
	return []query.SettlementResponse{{SettlementID: "s1", User: u.String()}}, f.err
}

func (f *fakeReads) GetJournalHistory(_ context.Context, _ identity.Identity, limit int, before *int64) ([]query.JournalHistoryEntry, error) {
	f.lastLimit, f.lastBefore = limit, before
	return nil, f.err
}

func (f *fakeReads) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true, AsOfSequence: 7}, f.err
}

type fakeEventLog struct{ seq int64 }

func (f fakeEventLog) GetLatestSequence(context.Context) (int64, error) { return f.seq, nil }

func newTestServer(cmds *fakeCommands, reads *fakeReads) *GRPCServer {
	return NewGRPCServer("", "", &ServerDeps{
		Commands:      cmds,
		Reads:         reads,
		EventLog:      fakeEventLog{seq: 41},
		Authenticator: auth.NewAuthenticator(secret, PublicMethods...),
		StartTime:     time.Now().Add(-time.Minute),
		HealthChecker: observability.NewHealthChecker(),
		Logger:        zerolog.Nop(),
	})
}

func token(t *testing.T, id identity.Identity) string {
	t.Helper()
	tok, err := auth.GenerateToken(id, secret, time.Minute)
	require.NoError(t, err)
	return tok
}

// dial serves s over an in-memory listener and returns a client conn.
func dial(t *testing.T, s *GRPCServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return conn
}

func withToken(t *testing.T, id identity.Identity) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), auth.AuthorizationHeader, "Bearer "+token(t, id))
}

// ============================================================================
// gRPC
// ============================================================================

func TestGRPC_SettleReturnsReceipt(t *testing.T) {
	receipt := &settlement.Receipt{
		SettlementID: "s1",
		User:         alice,
		Mode:         settlement.ModeSignedFeeBestEffort,
		ActualPayout: 30,
		Shortfall:    220,
		Transfers:    []ledger.Transfer{{From: backend, To: alice, Amount: 30, Type: ledger.JournalTypeSubsidy}},
	}
	cmds := &fakeCommands{result: core.Result{Sequence: 9, Receipt: receipt}}
	client := NewEscrowClient(dial(t, newTestServer(cmds, &fakeReads{})))

	var resp CommandResponse
	err := client.Invoke(withToken(t, backend), "Settle", &SettleRequest{
		SettlementID: "s1",
		User:         alice,
		PayoutAmount: 200,
		Fee:          -50,
		Mode:         settlement.ModeSignedFeeBestEffort,
	}, &resp)
	require.NoError(t, err)

	assert.Equal(t, int64(9), resp.Sequence)
	require.NotNil(t, resp.Receipt)
	assert.Equal(t, uint64(220), resp.Receipt.Shortfall)
	assert.Equal(t, alice, resp.Receipt.Transfers[0].To)

	assert.Equal(t, backend, cmds.lastCaller, "caller comes from the token")
	assert.Equal(t, alice, cmds.lastUser)
	assert.Equal(t, settlement.ModeSignedFeeBestEffort, cmds.lastMode)
}

func TestGRPC_RequiresToken(t *testing.T) {
	client := NewEscrowClient(dial(t, newTestServer(&fakeCommands{}, &fakeReads{})))

	var resp CommandResponse
	err := client.Invoke(context.Background(), "Deposit", &DepositRequest{Amount: 5}, &resp)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGRPC_HealthIsPublic(t *testing.T) {
	conn := dial(t, newTestServer(&fakeCommands{}, &fakeReads{}))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestGRPC_CommandRejectionMapsKind(t *testing.T) {
	cmds := &fakeCommands{result: core.Result{Sequence: -1, Err: ledger.ErrInsufficientBackendBalance}}
	client := NewEscrowClient(dial(t, newTestServer(cmds, &fakeReads{})))

	var resp CommandResponse
	err := client.Invoke(withToken(t, backend), "Settle", &SettleRequest{User: alice, Mode: settlement.ModeSignedFeeStrict}, &resp)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "InsufficientBackendBalance")
}

func TestGRPC_UnknownModeIsInvalidArgument(t *testing.T) {
	client := NewEscrowClient(dial(t, newTestServer(&fakeCommands{}, &fakeReads{})))

	var resp CommandResponse
	err := client.Invoke(withToken(t, backend), "Settle", json.RawMessage(`{"user":"`+alice.String()+`","mode":"bogus"}`), &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_EventLogInfo(t *testing.T) {
	client := NewEscrowClient(dial(t, newTestServer(&fakeCommands{}, &fakeReads{})))

	var info EventLogInfo
	require.NoError(t, client.Invoke(withToken(t, alice), "GetEventLogInfo", &GetEventLogInfoRequest{}, &info))
	assert.Equal(t, int64(41), info.LastSequence)
	assert.NotEmpty(t, info.Uptime)
}

func TestGRPC_RecordsMetrics(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	s := NewGRPCServer("", "", &ServerDeps{
		Commands:      &fakeCommands{},
		Reads:         &fakeReads{},
		EventLog:      fakeEventLog{},
		Authenticator: auth.NewAuthenticator(secret, PublicMethods...),
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})
	client := NewEscrowClient(dial(t, s))

	var resp CommandResponse
	_ = client.Invoke(context.Background(), "Deposit", &DepositRequest{}, &resp)
	require.NoError(t, client.Invoke(withToken(t, alice), "Deposit", &DepositRequest{Amount: 1}, &resp))

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("Deposit", "Unauthenticated")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("Deposit", "OK")))
}

// ============================================================================
// Error mapping
// ============================================================================

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{ledger.ErrUnauthorized, codes.PermissionDenied},
		{ledger.ErrInvalidConfiguration, codes.InvalidArgument},
		{ledger.ErrArithmeticOverflow, codes.OutOfRange},
		{ledger.ErrInsufficientVaultBalance, codes.FailedPrecondition},
		{ledger.ErrInsufficientPayout, codes.FailedPrecondition},
		{ledger.ErrTransferFailed, codes.Aborted},
		{ledger.ErrAlreadyInitialized, codes.AlreadyExists},
		{ledger.ErrUnknownUser, codes.NotFound},
		{fmt.Errorf("vault: %w", query.ErrNotFound), codes.NotFound},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
		{status.Error(codes.Unavailable, "x"), codes.Unavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), "%v", tt.err)
	}
	assert.NoError(t, toStatus(nil))
}

// ============================================================================
// HTTP gateway
// ============================================================================

func doJSON(t *testing.T, h http.Handler, method, path, body string, id *identity.Identity) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if id != nil {
		r.Header.Set("Authorization", "Bearer "+token(t, *id))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGateway_Deposit(t *testing.T) {
	cmds := &fakeCommands{result: core.Result{Sequence: 3, User: &ledger.UserAccount{User: alice, DepositAmount: 500}}}
	h := newTestServer(cmds, &fakeReads{}).Handler()

	w := doJSON(t, h, "POST", "/v1/deposits", `{"deposit_id":"d1","amount":500}`, &alice)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Sequence)
	assert.Equal(t, uint64(500), resp.User.DepositAmount)
	assert.Equal(t, "d1", cmds.lastID)
	assert.Equal(t, alice, cmds.lastCaller)
}

func TestGateway_Unauthenticated(t *testing.T) {
	h := newTestServer(&fakeCommands{}, &fakeReads{}).Handler()

	w := doJSON(t, h, "GET", "/v1/vault", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGateway_NotFound(t *testing.T) {
	h := newTestServer(&fakeCommands{}, &fakeReads{err: fmt.Errorf("vault: %w", query.ErrNotFound)}).Handler()

	w := doJSON(t, h, "GET", "/v1/vault", "", &alice)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NotFound", body.Code)
}

func TestGateway_SettlementPaging(t *testing.T) {
	reads := &fakeReads{}
	h := newTestServer(&fakeCommands{}, reads).Handler()

	w := doJSON(t, h, "GET", "/v1/users/"+alice.String()+"/settlements?limit=20&before_sequence=50", "", &backend)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 20, reads.lastLimit)
	require.NotNil(t, reads.lastBefore)
	assert.Equal(t, int64(50), *reads.lastBefore)

	var resp ListSettlementsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Settlements, 1)
	assert.Equal(t, "s1", resp.Settlements[0].SettlementID)
}

func TestGateway_BadPathIdentity(t *testing.T) {
	h := newTestServer(&fakeCommands{}, &fakeReads{}).Handler()

	w := doJSON(t, h, "GET", "/v1/balances/not-base58!", "", &alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGateway_HealthProbes(t *testing.T) {
	s := newTestServer(&fakeCommands{}, &fakeReads{})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, doJSON(t, h, "GET", "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, h, "GET", "/readyz", "", nil).Code)

	s.healthChecker.SetReady(true)
	assert.Equal(t, http.StatusOK, doJSON(t, h, "GET", "/readyz", "", nil).Code)
}
