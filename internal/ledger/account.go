package ledger

import (
	"EscrowLedger/internal/identity"
	"fmt"
)

// VaultState is the single per-deployment vault record.
type VaultState struct {
	Authority     identity.Identity `json:"authority"`
	BackendWallet identity.Identity `json:"backend_wallet"`
	VaultAddress  identity.Identity `json:"vault_address"`
	TotalDeposit  uint64            `json:"total_deposit"`
}

// UserAccount holds what one depositor has contributed and not yet settled.
type UserAccount struct {
	User          identity.Identity `json:"user"`
	DepositAmount uint64            `json:"deposit_amount"`
}

// Initialize builds an empty vault. Every identity must be non-null.
func Initialize(authority, backendWallet, vaultAddress identity.Identity) (*VaultState, error) {
	switch {
	case authority.IsZero():
		return nil, fmt.Errorf("%w: authority is the null identity", ErrInvalidConfiguration)
	case backendWallet.IsZero():
		return nil, fmt.Errorf("%w: backend wallet is the null identity", ErrInvalidConfiguration)
	case vaultAddress.IsZero():
		return nil, fmt.Errorf("%w: vault address is the null identity", ErrInvalidConfiguration)
	case vaultAddress == backendWallet:
		return nil, fmt.Errorf("%w: vault address equals backend wallet", ErrInvalidConfiguration)
	}

	return &VaultState{
		Authority:     authority,
		BackendWallet: backendWallet,
		VaultAddress:  vaultAddress,
		TotalDeposit:  0,
	}, nil
}

// Role classifies a custodial account relative to the vault.
type Role string

const (
	RoleVault    Role = "vault"
	RoleBackend  Role = "backend"
	RoleUser     Role = "user"
	RoleExternal Role = "external"
)

// RoleOf returns the role id plays in this vault. The null identity is the
// external boundary used for funding.
func (s *VaultState) RoleOf(id identity.Identity) Role {
	switch {
	case id.IsZero():
		return RoleExternal
	case id == s.VaultAddress:
		return RoleVault
	case id == s.BackendWallet:
		return RoleBackend
	default:
		return RoleUser
	}
}

// AccountPath is the storage key of a custodial account, e.g.
// "vault:<base58>" or "user:<base58>".
func (s *VaultState) AccountPath(id identity.Identity) string {
	if id.IsZero() {
		return "external:funding"
	}
	return fmt.Sprintf("%s:%s", s.RoleOf(id), id)
}
