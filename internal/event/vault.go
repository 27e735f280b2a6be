package event

import (
	"EscrowLedger/internal/identity"
	"time"
)

// VaultInitialized creates the deployment's vault. Issued by the authority.
type VaultInitialized struct {
	CommandID     string            `json:"command_id"`
	Authority     identity.Identity `json:"authority"`
	BackendWallet identity.Identity `json:"backend_wallet"`
	VaultAddress  identity.Identity `json:"vault_address"`
	Timestamp     time.Time         `json:"timestamp"`
}

func (v *VaultInitialized) IdempotencyKey() string {
	return "vault-init:" + v.CommandID
}

func (v *VaultInitialized) EventType() EventType {
	return EventTypeVaultInitialized
}

func (v *VaultInitialized) Caller() identity.Identity {
	return v.Authority
}

func (v *VaultInitialized) OccurredAt() time.Time {
	return v.Timestamp
}

// UserAccountOpened provisions a zeroed user account ahead of any deposit.
type UserAccountOpened struct {
	CommandID string            `json:"command_id"`
	User      identity.Identity `json:"user"`
	Timestamp time.Time         `json:"timestamp"`
}

// IdempotencyKey is scoped to the user, like DepositRequested's.
func (u *UserAccountOpened) IdempotencyKey() string {
	return "user-open:" + u.User.String() + ":" + u.CommandID
}

func (u *UserAccountOpened) EventType() EventType {
	return EventTypeUserAccountOpened
}

func (u *UserAccountOpened) Caller() identity.Identity {
	return u.User
}

func (u *UserAccountOpened) OccurredAt() time.Time {
	return u.Timestamp
}
