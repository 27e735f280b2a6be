package ledger

import (
	"EscrowLedger/internal/identity"
	fpmath "EscrowLedger/internal/math"
	"fmt"
	"sort"
)

// VaultLedger owns TotalDeposit and every UserAccount.DepositAmount.
// Callers serialize access; the ledger performs no locking.
type VaultLedger struct {
	state *VaultState
	users map[identity.Identity]*UserAccount
}

func NewVaultLedger(state *VaultState) *VaultLedger {
	return &VaultLedger{
		state: state,
		users: make(map[identity.Identity]*UserAccount),
	}
}

// State returns a copy of the vault record.
func (l *VaultLedger) State() VaultState {
	return *l.state
}

// UserAccount returns a copy of the user's record.
func (l *VaultLedger) UserAccount(user identity.Identity) (UserAccount, bool) {
	acct, ok := l.users[user]
	if !ok {
		return UserAccount{}, false
	}
	return *acct, true
}

// Users returns every account ordered by identity.
func (l *VaultLedger) Users() []UserAccount {
	out := make([]UserAccount, 0, len(l.users))
	for _, a := range l.users {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].User.String() < out[j].User.String()
	})
	return out
}

// OpenUserAccount provisions a zeroed account. It reports false if the
// account already existed.
func (l *VaultLedger) OpenUserAccount(user identity.Identity) (UserAccount, bool, error) {
	if user.IsZero() {
		return UserAccount{}, false, fmt.Errorf("%w: user is the null identity", ErrInvalidConfiguration)
	}
	if acct, ok := l.users[user]; ok {
		return *acct, false, nil
	}
	acct := &UserAccount{User: user}
	l.users[user] = acct
	return *acct, true, nil
}

// CheckCredit reports whether Credit(user, amount) would succeed, without
// mutating anything.
func (l *VaultLedger) CheckCredit(user identity.Identity, amount uint64) error {
	_, _, err := l.creditTotals(user, amount)
	return err
}

func (l *VaultLedger) creditTotals(user identity.Identity, amount uint64) (uint64, uint64, error) {
	if user.IsZero() {
		return 0, 0, fmt.Errorf("%w: user is the null identity", ErrInvalidConfiguration)
	}
	var current uint64
	if acct, ok := l.users[user]; ok {
		current = acct.DepositAmount
	}

	deposit, err := fpmath.CheckedAdd(current, amount)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: deposit %d + %d", ErrArithmeticOverflow, current, amount)
	}
	total, err := fpmath.CheckedAdd(l.state.TotalDeposit, amount)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: total deposit %d + %d", ErrArithmeticOverflow, l.state.TotalDeposit, amount)
	}
	return deposit, total, nil
}

// Credit adds amount to the user's deposit and the vault total, creating
// the account on first use. On overflow nothing changes.
func (l *VaultLedger) Credit(user identity.Identity, amount uint64) error {
	deposit, total, err := l.creditTotals(user, amount)
	if err != nil {
		return err
	}

	acct, ok := l.users[user]
	if !ok {
		acct = &UserAccount{User: user}
		l.users[user] = acct
	}
	acct.DepositAmount = deposit
	l.state.TotalDeposit = total
	return nil
}

// CheckDebitAll validates DebitAll and returns the amount it would release
// from TotalDeposit. This is the user's whole deposit, not collateral, and
// collateral above that deposit is rejected as well as collateral above
// TotalDeposit; a plain TotalDeposit -= collateral would break conservation
// on partial liquidation.
func (l *VaultLedger) CheckDebitAll(user identity.Identity, collateral uint64) (uint64, error) {
	var deposit uint64
	if acct, ok := l.users[user]; ok {
		deposit = acct.DepositAmount
	}

	if collateral > l.state.TotalDeposit {
		return 0, fmt.Errorf("%w: collateral %d exceeds total deposit %d",
			ErrArithmeticUnderflow, collateral, l.state.TotalDeposit)
	}
	if collateral > deposit {
		return 0, fmt.Errorf("%w: collateral %d exceeds user deposit %d",
			ErrArithmeticUnderflow, collateral, deposit)
	}
	if _, err := fpmath.CheckedSub(l.state.TotalDeposit, deposit); err != nil {
		return 0, fmt.Errorf("%w: user deposit %d exceeds total deposit %d",
			ErrArithmeticUnderflow, deposit, l.state.TotalDeposit)
	}
	return deposit, nil
}

// DebitAll zeroes the user's deposit after settlement. TotalDeposit drops
// by the whole released deposit so it keeps matching the sum of accounts.
// Calling it on a zeroed account with collateral 0 is a no-op.
func (l *VaultLedger) DebitAll(user identity.Identity, collateral uint64) (uint64, error) {
	released, err := l.CheckDebitAll(user, collateral)
	if err != nil {
		return 0, err
	}
	if acct, ok := l.users[user]; ok {
		acct.DepositAmount = 0
	}
	l.state.TotalDeposit -= released
	return released, nil
}

// Clone returns an independent copy for staged execution.
func (l *VaultLedger) Clone() *VaultLedger {
	state := *l.state
	c := &VaultLedger{
		state: &state,
		users: make(map[identity.Identity]*UserAccount, len(l.users)),
	}
	for k, v := range l.users {
		acct := *v
		c.users[k] = &acct
	}
	return c
}

// LedgerSnapshot is the serializable form of a VaultLedger.
type LedgerSnapshot struct {
	State VaultState    `json:"state"`
	Users []UserAccount `json:"users"`
}

func (l *VaultLedger) Snapshot() LedgerSnapshot {
	return LedgerSnapshot{
		State: l.State(),
		Users: l.Users(),
	}
}

// RestoreVaultLedger rebuilds a ledger from a snapshot and checks that it
// is internally consistent.
func RestoreVaultLedger(snap LedgerSnapshot) (*VaultLedger, error) {
	state := snap.State
	l := NewVaultLedger(&state)
	for _, u := range snap.Users {
		acct := u
		l.users[u.User] = &acct
	}
	if err := NewInvariantValidator(l).ValidateConservation(); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	return l, nil
}
