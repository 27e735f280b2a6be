package ledger

import "errors"

// Escrow error taxonomy. Callers match with errors.Is.
var (
	ErrUnauthorized               = errors.New("unauthorized: caller is not the backend wallet")
	ErrInvalidConfiguration       = errors.New("invalid configuration")
	ErrArithmeticOverflow         = errors.New("arithmetic overflow")
	ErrArithmeticUnderflow        = errors.New("arithmetic underflow")
	ErrInsufficientVaultBalance   = errors.New("insufficient vault balance")
	ErrInsufficientBackendBalance = errors.New("insufficient backend balance")
	ErrInsufficientPayout         = errors.New("insufficient payout: fee must be below payout")
	ErrTransferFailed             = errors.New("transfer failed")

	ErrNotInitialized     = errors.New("vault not initialized")
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrUnknownUser        = errors.New("user account not found")
	ErrConservationBroken = errors.New("conservation invariant violated")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidConfiguration, "InvalidConfiguration"},
	{ErrArithmeticOverflow, "ArithmeticOverflow"},
	{ErrArithmeticUnderflow, "ArithmeticUnderflow"},
	{ErrInsufficientVaultBalance, "InsufficientVaultBalance"},
	{ErrInsufficientBackendBalance, "InsufficientBackendBalance"},
	{ErrInsufficientPayout, "InsufficientPayout"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrUnknownUser, "UnknownUser"},
}

// Kind names the taxonomy entry of err, "" for nil and "Internal" for
// anything outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
