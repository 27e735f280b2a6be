package core

import (
	"EscrowLedger/internal/custody"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/settlement"
	"errors"
	"fmt"
)

func (c *EscrowCore) dispatchEvent(tx *custody.Tx, vl *ledger.VaultLedger, evt event.Event) (*effect, error) {
	switch e := evt.(type) {
	case *event.VaultInitialized:
		return c.handleVaultInitialized(tx, vl, e)
	case *event.UserAccountOpened:
		return c.handleUserAccountOpened(vl, e)
	case *event.DepositRequested:
		return c.handleDepositRequested(tx, vl, e)
	case *event.SettlementRequested:
		return c.handleSettlementRequested(tx, vl, e)
	case *event.AccountFunded:
		return c.handleAccountFunded(tx, vl, e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *EscrowCore) handleVaultInitialized(tx *custody.Tx, vl *ledger.VaultLedger, evt *event.VaultInitialized) (*effect, error) {
	if vl != nil {
		return nil, ledger.ErrAlreadyInitialized
	}

	state, err := ledger.Initialize(evt.Authority, evt.BackendWallet, evt.VaultAddress)
	if err != nil {
		return nil, err
	}
	tx.RegisterVault(state.VaultAddress)

	c.logger.Info().
		Str("authority", state.Authority.Short()).
		Str("backend", state.BackendWallet.Short()).
		Str("vault", state.VaultAddress.Short()).
		Msg("vault initialized")

	return &effect{
		vault:    ledger.NewVaultLedger(state),
		accounts: []identity.Identity{state.VaultAddress, state.BackendWallet},
	}, nil
}

func (c *EscrowCore) handleUserAccountOpened(vl *ledger.VaultLedger, evt *event.UserAccountOpened) (*effect, error) {
	if vl == nil {
		return nil, ledger.ErrNotInitialized
	}
	if _, _, err := vl.OpenUserAccount(evt.User); err != nil {
		return nil, err
	}
	return &effect{vault: vl, users: []identity.Identity{evt.User}}, nil
}

// handleDepositRequested checks the credit first so an overflow aborts
// before the user's funds move.
func (c *EscrowCore) handleDepositRequested(tx *custody.Tx, vl *ledger.VaultLedger, evt *event.DepositRequested) (*effect, error) {
	if vl == nil {
		return nil, ledger.ErrNotInitialized
	}
	state := vl.State()

	if err := vl.CheckCredit(evt.User, evt.Amount); err != nil {
		return nil, err
	}

	transfer := ledger.Transfer{
		From:   evt.User,
		To:     state.VaultAddress,
		Amount: evt.Amount,
		Type:   ledger.JournalTypeDeposit,
	}
	if evt.Amount > 0 {
		if err := tx.Transfer(transfer.From, transfer.To, transfer.Amount, custody.SignerAuthority(evt.User)); err != nil {
			return nil, fmt.Errorf("%w: deposit user->vault: %w", ledger.ErrTransferFailed, err)
		}
	}

	if err := vl.Credit(evt.User, evt.Amount); err != nil {
		return nil, err
	}

	return &effect{
		vault:     vl,
		transfers: []ledger.Transfer{transfer},
		users:     []identity.Identity{evt.User},
		accounts:  []identity.Identity{evt.User, state.VaultAddress},
	}, nil
}

func (c *EscrowCore) handleSettlementRequested(tx *custody.Tx, vl *ledger.VaultLedger, evt *event.SettlementRequested) (*effect, error) {
	if vl == nil {
		return nil, ledger.ErrNotInitialized
	}

	mode := evt.Mode
	if mode == settlement.ModeUnspecified {
		mode = c.defaultMode
	}

	receipt, err := c.engine.Settle(tx, vl, settlement.Request{
		SettlementID: evt.SettlementID,
		Caller:       evt.CallerID,
		User:         evt.User,
		PayoutAmount: evt.PayoutAmount,
		Fee:          evt.Fee,
		Mode:         mode,
		Timestamp:    evt.Timestamp.UnixMicro(),
	})
	if err != nil {
		return nil, err
	}

	state := vl.State()
	return &effect{
		vault:     vl,
		transfers: receipt.Transfers,
		receipt:   receipt,
		users:     []identity.Identity{evt.User},
		accounts:  []identity.Identity{state.VaultAddress, state.BackendWallet, evt.User},
	}, nil
}

// handleAccountFunded books external funds. Only the chain watcher (null
// reporter) or the vault authority may report them.
func (c *EscrowCore) handleAccountFunded(tx *custody.Tx, vl *ledger.VaultLedger, evt *event.AccountFunded) (*effect, error) {
	if evt.Account.IsZero() {
		return nil, fmt.Errorf("%w: funding the null identity", ledger.ErrInvalidConfiguration)
	}
	if !evt.Reporter.IsZero() {
		if vl == nil {
			return nil, ledger.ErrNotInitialized
		}
		if evt.Reporter != vl.State().Authority {
			return nil, fmt.Errorf("%w: funding reported by %s", ledger.ErrUnauthorized, evt.Reporter.Short())
		}
	}

	if err := tx.Fund(evt.Account, evt.Amount); err != nil {
		if errors.Is(err, custody.ErrBalanceOverflow) {
			return nil, fmt.Errorf("%w: funding %s: %w", ledger.ErrArithmeticOverflow, evt.Account.Short(), err)
		}
		return nil, err
	}

	return &effect{
		vault: vl,
		transfers: []ledger.Transfer{{
			From:   identity.Zero,
			To:     evt.Account,
			Amount: evt.Amount,
			Type:   ledger.JournalTypeFunding,
		}},
		accounts: []identity.Identity{evt.Account},
	}, nil
}
