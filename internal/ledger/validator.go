package ledger

import (
	fpmath "EscrowLedger/internal/math"
	"fmt"
)

// InvariantValidator checks the ledger's conservation and solvency invariants.
type InvariantValidator struct {
	ledger *VaultLedger
}

func NewInvariantValidator(ledger *VaultLedger) *InvariantValidator {
	return &InvariantValidator{
		ledger: ledger,
	}
}

// ValidateConservation verifies TotalDeposit equals the sum of all deposits.
func (v *InvariantValidator) ValidateConservation() error {
	var sum uint64
	for _, acct := range v.ledger.users {
		next, err := fpmath.CheckedAdd(sum, acct.DepositAmount)
		if err != nil {
			return fmt.Errorf("%w: sum of deposits overflows", ErrConservationBroken)
		}
		sum = next
	}

	if sum != v.ledger.state.TotalDeposit {
		return fmt.Errorf("%w: total deposit %d, sum of accounts %d",
			ErrConservationBroken, v.ledger.state.TotalDeposit, sum)
	}
	return nil
}

// ValidateSolvency verifies the bookkeeping total is covered by the vault's
// actual custodial balance.
func (v *InvariantValidator) ValidateSolvency(vaultActualBalance uint64) error {
	if v.ledger.state.TotalDeposit > vaultActualBalance {
		return fmt.Errorf("%w: total deposit %d exceeds vault balance %d",
			ErrInsufficientVaultBalance, v.ledger.state.TotalDeposit, vaultActualBalance)
	}
	return nil
}

// ValidateSolvencyAfter verifies that after moving outflow out of the vault
// and releasing released from the books, the remaining deposits stay covered.
func (v *InvariantValidator) ValidateSolvencyAfter(vaultActualBalance, outflow, released uint64) error {
	if err := AssertSufficientVaultBalance(vaultActualBalance, outflow); err != nil {
		return err
	}
	remainingBooks, err := fpmath.CheckedSub(v.ledger.state.TotalDeposit, released)
	if err != nil {
		return fmt.Errorf("%w: release %d exceeds total deposit %d",
			ErrArithmeticUnderflow, released, v.ledger.state.TotalDeposit)
	}
	if remainingFunds := vaultActualBalance - outflow; remainingBooks > remainingFunds {
		return fmt.Errorf("%w: %d would remain against %d of live deposits",
			ErrInsufficientVaultBalance, remainingFunds, remainingBooks)
	}
	return nil
}

// AssertSufficientVaultBalance fails when requested exceeds the vault's
// actual balance. vaultActualBalance must come from the custodial host,
// not from TotalDeposit.
func AssertSufficientVaultBalance(vaultActualBalance, requested uint64) error {
	if requested > vaultActualBalance {
		return fmt.Errorf("%w: requested %d, vault holds %d",
			ErrInsufficientVaultBalance, requested, vaultActualBalance)
	}
	return nil
}
