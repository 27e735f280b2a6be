package ledger

import (
	"EscrowLedger/internal/identity"
	"fmt"
)

// CheckBackend admits only the registered backend wallet. It must run
// before any settlement side effect.
func CheckBackend(state *VaultState, caller identity.Identity) error {
	if state == nil {
		return ErrNotInitialized
	}
	if caller.IsZero() || caller != state.BackendWallet {
		return fmt.Errorf("%w: caller %s", ErrUnauthorized, caller.Short())
	}
	return nil
}
