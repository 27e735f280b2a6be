package server

import (
	"EscrowLedger/internal/auth"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/query"
	"EscrowLedger/internal/settlement"
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Commands submits state-changing commands to the core.
type Commands interface {
	InitializeVault(ctx context.Context, commandID string, caller, backendWallet, vaultAddress identity.Identity) (core.Result, error)
	OpenUserAccount(ctx context.Context, commandID string, caller identity.Identity) (core.Result, error)
	Deposit(ctx context.Context, depositID string, caller identity.Identity, amount uint64) (core.Result, error)
	Settle(ctx context.Context, settlementID string, caller, user identity.Identity, payoutAmount uint64, fee int64, mode settlement.Mode) (core.Result, error)
	Fund(ctx context.Context, fundingID string, caller, account identity.Identity, amount uint64) (core.Result, error)
}

// Reads serves the projection-backed queries.
type Reads interface {
	GetVault(ctx context.Context) (*query.VaultResponse, error)
	GetUser(ctx context.Context, user identity.Identity) (*query.UserResponse, error)
	GetBalance(ctx context.Context, account identity.Identity) (*query.BalanceResponse, error)
	GetSettlements(ctx context.Context, user identity.Identity, limit int, beforeSequence *int64) ([]query.SettlementResponse, error)
	GetJournalHistory(ctx context.Context, account identity.Identity, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// EventLog reports on the durable event log.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
}

// EscrowService implements EscrowServer. The caller of every command is
// the identity authenticated by the interceptor.
type EscrowService struct {
	commands  Commands
	reads     Reads
	eventLog  EventLog
	startTime time.Time
}

func NewEscrowService(commands Commands, reads Reads, eventLog EventLog, startTime time.Time) *EscrowService {
	return &EscrowService{
		commands:  commands,
		reads:     reads,
		eventLog:  eventLog,
		startTime: startTime,
	}
}

func caller(ctx context.Context) (identity.Identity, error) {
	id, ok := auth.CallerFromContext(ctx)
	if !ok {
		return identity.Zero, status.Error(codes.Unauthenticated, "no caller identity")
	}
	return id, nil
}

func commandResponse(res core.Result, err error) (*CommandResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	if res.Err != nil {
		return nil, toStatus(res.Err)
	}
	return &CommandResponse{
		Sequence:  res.Sequence,
		Duplicate: res.Duplicate,
		Receipt:   res.Receipt,
		Vault:     res.Vault,
		User:      res.User,
	}, nil
}

// ============================================================================
// Commands
// ============================================================================

func (s *EscrowService) InitializeVault(ctx context.Context, req *InitializeVaultRequest) (*CommandResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.commands.InitializeVault(ctx, req.CommandID, id, req.BackendWallet, req.VaultAddress))
}

func (s *EscrowService) OpenUserAccount(ctx context.Context, req *OpenUserAccountRequest) (*CommandResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.commands.OpenUserAccount(ctx, req.CommandID, id))
}

func (s *EscrowService) Deposit(ctx context.Context, req *DepositRequest) (*CommandResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.commands.Deposit(ctx, req.DepositID, id, req.Amount))
}

func (s *EscrowService) Settle(ctx context.Context, req *SettleRequest) (*CommandResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.commands.Settle(ctx, req.SettlementID, id, req.User, req.PayoutAmount, req.Fee, req.Mode))
}

func (s *EscrowService) FundAccount(ctx context.Context, req *FundAccountRequest) (*CommandResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.commands.Fund(ctx, req.FundingID, id, req.Account, req.Amount))
}

// ============================================================================
// Queries
// ============================================================================

func (s *EscrowService) GetVault(ctx context.Context, _ *GetVaultRequest) (*query.VaultResponse, error) {
	resp, err := s.reads.GetVault(ctx)
	return resp, toStatus(err)
}

func (s *EscrowService) GetUser(ctx context.Context, req *GetUserRequest) (*query.UserResponse, error) {
	resp, err := s.reads.GetUser(ctx, req.User)
	return resp, toStatus(err)
}

func (s *EscrowService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceResponse, error) {
	resp, err := s.reads.GetBalance(ctx, req.Account)
	return resp, toStatus(err)
}

func (s *EscrowService) ListSettlements(ctx context.Context, req *ListSettlementsRequest) (*ListSettlementsResponse, error) {
	if req.User.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "user is required")
	}
	out, err := s.reads.GetSettlements(ctx, req.User, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListSettlementsResponse{Settlements: out}, nil
}

func (s *EscrowService) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	if req.Account.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "account is required")
	}
	out, err := s.reads.GetJournalHistory(ctx, req.Account, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListJournalsResponse{Journals: out}, nil
}

// ============================================================================
// Admin
// ============================================================================

func (s *EscrowService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	report, err := s.reads.VerifyIntegrity(ctx)
	return report, toStatus(err)
}

func (s *EscrowService) GetEventLogInfo(ctx context.Context, _ *GetEventLogInfoRequest) (*EventLogInfo, error) {
	latest, err := s.eventLog.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	return &EventLogInfo{
		LastSequence: latest,
		StartedAt:    s.startTime,
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
	}, nil
}
