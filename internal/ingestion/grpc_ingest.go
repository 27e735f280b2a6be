package ingestion

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/settlement"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrCoreUnavailable is returned when the core stops before replying.
var ErrCoreUnavailable = errors.New("escrow core unavailable")

// GRPCIngestService submits commands from the API and waits for the core's
// answer. NATS is the bulk path; this is for interactive callers that need
// the receipt.
type GRPCIngestService struct {
	commands chan<- core.Command
	now      func() time.Time
}

func NewGRPCIngestService(commands chan<- core.Command) *GRPCIngestService {
	return &GRPCIngestService{
		commands: commands,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit hands evt to the core and blocks for its Result.
func (s *GRPCIngestService) Submit(ctx context.Context, evt event.Event) (core.Result, error) {
	reply := make(chan core.Result, 1)

	select {
	case s.commands <- core.Command{Event: evt, Reply: reply}:
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}

	select {
	case res, ok := <-reply:
		if !ok {
			return core.Result{}, ErrCoreUnavailable
		}
		return res, nil
	case <-ctx.Done():
		// the command may still be applied; resubmitting with the same id is safe
		return core.Result{}, ctx.Err()
	}
}

// InitializeVault creates the vault. caller is the authority.
func (s *GRPCIngestService) InitializeVault(
	ctx context.Context,
	commandID string,
	caller identity.Identity,
	backendWallet, vaultAddress identity.Identity,
) (core.Result, error) {
	return s.Submit(ctx, &event.VaultInitialized{
		CommandID:     orNewID(commandID),
		Authority:     caller,
		BackendWallet: backendWallet,
		VaultAddress:  vaultAddress,
		Timestamp:     s.now(),
	})
}

// OpenUserAccount provisions the caller's user account.
func (s *GRPCIngestService) OpenUserAccount(ctx context.Context, commandID string, caller identity.Identity) (core.Result, error) {
	return s.Submit(ctx, &event.UserAccountOpened{
		CommandID: orNewID(commandID),
		User:      caller,
		Timestamp: s.now(),
	})
}

// Deposit moves amount from the caller's custodial account into the vault.
func (s *GRPCIngestService) Deposit(ctx context.Context, depositID string, caller identity.Identity, amount uint64) (core.Result, error) {
	return s.Submit(ctx, &event.DepositRequested{
		DepositID: orNewID(depositID),
		User:      caller,
		Amount:    amount,
		Timestamp: s.now(),
	})
}

// Settle settles user on behalf of caller, which must be the backend wallet.
func (s *GRPCIngestService) Settle(
	ctx context.Context,
	settlementID string,
	caller, user identity.Identity,
	payoutAmount uint64,
	fee int64,
	mode settlement.Mode,
) (core.Result, error) {
	return s.Submit(ctx, &event.SettlementRequested{
		SettlementID: orNewID(settlementID),
		CallerID:     caller,
		User:         user,
		PayoutAmount: payoutAmount,
		Fee:          fee,
		Mode:         mode,
		Timestamp:    s.now(),
	})
}

// Fund records an external top-up of account reported by caller.
func (s *GRPCIngestService) Fund(
	ctx context.Context,
	fundingID string,
	caller, account identity.Identity,
	amount uint64,
) (core.Result, error) {
	return s.Submit(ctx, &event.AccountFunded{
		FundingID: orNewID(fundingID),
		Account:   account,
		Amount:    amount,
		Reporter:  caller,
		Timestamp: s.now(),
	})
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
