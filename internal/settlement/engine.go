// Package settlement implements the privileged fund split that closes out a
// user's escrowed position.
package settlement

import (
	"EscrowLedger/internal/custody"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"fmt"

	"github.com/rs/zerolog"
)

// Request is one settlement call. Caller must already be authenticated.
type Request struct {
	SettlementID string
	Caller       identity.Identity
	User         identity.Identity
	PayoutAmount uint64
	Fee          int64
	Mode         Mode
	Timestamp    int64
}

// Engine runs settlements in two phases: plan every check against the
// queried balances, then execute the transfers and the ledger debit.
// Callers run Settle inside one atomic scope and serialize calls per vault.
type Engine struct {
	logger zerolog.Logger
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Settle splits funds for req.User. On error the host and ledger may hold
// staged changes only if a transfer itself failed; callers discard the scope.
func (e *Engine) Settle(host custody.Host, vl *ledger.VaultLedger, req Request) (*Receipt, error) {
	state := vl.State()

	// Phase 1: authorize and plan. Nothing has moved yet.
	if err := ledger.CheckBackend(&state, req.Caller); err != nil {
		return nil, err
	}
	acct, ok := vl.UserAccount(req.User)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownUser, req.User)
	}

	vaultBalance := host.BalanceOf(state.VaultAddress)
	plan, err := Compute(Inputs{
		Mode:           req.Mode,
		PayoutAmount:   req.PayoutAmount,
		Fee:            req.Fee,
		VaultBalance:   vaultBalance,
		BackendBalance: host.BalanceOf(state.BackendWallet),
		UserDeposit:    acct.DepositAmount,
	})
	if err != nil {
		return nil, err
	}

	released, err := vl.CheckDebitAll(req.User, plan.Collateral)
	if err != nil {
		return nil, err
	}
	if plan.VaultOutflow > 0 {
		if err := ledger.NewInvariantValidator(vl).ValidateSolvencyAfter(vaultBalance, plan.VaultOutflow, released); err != nil {
			return nil, err
		}
	}

	transfers, authorities, err := e.resolve(host, &state, req, plan)
	if err != nil {
		return nil, err
	}

	// Phase 2: apply.
	for i, t := range transfers {
		if err := host.Transfer(t.From, t.To, t.Amount, authorities[i]); err != nil {
			return nil, fmt.Errorf("%w: %s %s->%s: %w", ledger.ErrTransferFailed,
				t.Type, state.RoleOf(t.From), state.RoleOf(t.To), err)
		}
	}

	if _, err := vl.DebitAll(req.User, plan.Collateral); err != nil {
		return nil, err
	}
	if err := ledger.NewInvariantValidator(vl).ValidateConservation(); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		SettlementID:       req.SettlementID,
		User:               req.User,
		Mode:               req.Mode,
		PayoutAmount:       req.PayoutAmount,
		FeeApplied:         plan.FeeApplied,
		RequestedPayout:    plan.RequestedPayout,
		ActualPayout:       plan.ActualPayout,
		Shortfall:          plan.Shortfall(),
		CollateralReleased: released,
		Transfers:          transfers,
		Timestamp:          req.Timestamp,
	}

	ev := e.logger.Info()
	if receipt.IsPartial() {
		ev = e.logger.Warn()
	}
	ev.Str("settlement_id", req.SettlementID).
		Str("user", req.User.Short()).
		Str("mode", req.Mode.String()).
		Uint64("requested_payout", receipt.RequestedPayout).
		Uint64("actual_payout", receipt.ActualPayout).
		Uint64("shortfall", receipt.Shortfall).
		Int("transfers", len(transfers)).
		Msg("settlement applied")

	return receipt, nil
}

// resolve maps plan legs to identities and obtains every authority up
// front. Zero-amount legs are dropped.
func (e *Engine) resolve(host custody.Host, state *ledger.VaultState, req Request, plan *Plan) ([]ledger.Transfer, []custody.AuthorityToken, error) {
	var (
		transfers   []ledger.Transfer
		authorities []custody.AuthorityToken
		vaultToken  *custody.AuthorityToken
	)

	parties := map[Party]identity.Identity{
		PartyVault:   state.VaultAddress,
		PartyBackend: state.BackendWallet,
		PartyUser:    req.User,
	}

	for _, leg := range plan.Legs {
		if leg.Amount == 0 {
			continue
		}

		var auth custody.AuthorityToken
		switch leg.From {
		case PartyVault:
			if vaultToken == nil {
				tok, err := host.AuthorizeVaultTransfer(state.VaultAddress)
				if err != nil {
					return nil, nil, fmt.Errorf("%w: vault authority: %w", ledger.ErrTransferFailed, err)
				}
				vaultToken = &tok
			}
			auth = *vaultToken
		case PartyBackend:
			// the backend is the authenticated caller and signs its own legs
			auth = custody.SignerAuthority(req.Caller)
		default:
			return nil, nil, fmt.Errorf("settlement leg from %s is not supported", leg.From)
		}

		transfers = append(transfers, ledger.Transfer{
			From:   parties[leg.From],
			To:     parties[leg.To],
			Amount: leg.Amount,
			Type:   leg.Type,
		})
		authorities = append(authorities, auth)
	}

	return transfers, authorities, nil
}
