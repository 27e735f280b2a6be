// Package custody is the hosting environment seen by the escrow core:
// authoritative custodial balances, the transfer primitive, and the vault
// signing capability.
package custody

import (
	"errors"

	"EscrowLedger/internal/identity"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUnauthorizedTransfer = errors.New("transfer authority does not cover source account")
	ErrNotVault             = errors.New("account is not a custodial vault")
	ErrSelfTransfer         = errors.New("source and destination are the same account")
	ErrBalanceOverflow      = errors.New("destination balance overflow")
)

// BalanceReader answers authoritative balance queries. Balances reflect
// external funding that the escrow ledger does not book.
type BalanceReader interface {
	BalanceOf(account identity.Identity) uint64
}

// TransferPrimitive moves funds between custodial accounts. It fails with
// ErrInsufficientFunds when the source balance is below amount at execution time.
type TransferPrimitive interface {
	Transfer(from, to identity.Identity, amount uint64, authority AuthorityToken) error
}

// VaultAuthorizer issues the delegated signing capability of a vault.
type VaultAuthorizer interface {
	AuthorizeVaultTransfer(vault identity.Identity) (AuthorityToken, error)
}

// Host is the full hosting environment consumed by deposit and settlement.
type Host interface {
	BalanceReader
	TransferPrimitive
	VaultAuthorizer
}
