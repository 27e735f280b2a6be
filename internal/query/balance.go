package query

import (
	"github.com/shopspring/decimal"
)

// Amount is a minor-unit quantity as returned by the API. Minor is exact;
// Display is Minor scaled by the token's decimals.
type Amount struct {
	Minor   string `json:"minor"`
	Display string `json:"display"`
}

// DecimalConfig describes the base currency for display.
type DecimalConfig struct {
	Decimals int32
}

// DefaultDecimals matches a 6-decimal stablecoin.
const DefaultDecimals = 6

func (c DecimalConfig) amount(minor decimal.Decimal) Amount {
	return Amount{
		Minor:   minor.String(),
		Display: minor.Shift(-c.Decimals).StringFixed(c.Decimals),
	}
}

// BalanceResponse is the custodial balance of one account, i.e. balanceOf.
type BalanceResponse struct {
	Account      string `json:"account"`
	Role         string `json:"role"`
	Balance      Amount `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// VaultResponse is the vault record plus the custody position backing it.
type VaultResponse struct {
	Authority     string `json:"authority"`
	BackendWallet string `json:"backend_wallet"`
	VaultAddress  string `json:"vault_address"`
	TotalDeposit  Amount `json:"total_deposit"`

	VaultBalance   Amount `json:"vault_balance"`
	BackendBalance Amount `json:"backend_balance"`
	// Surplus is vault balance above TotalDeposit, e.g. collateral left
	// behind by a partial liquidation. Never negative on a solvent vault.
	Surplus Amount `json:"surplus"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// UserResponse is one depositor's bookkeeping and custody view.
type UserResponse struct {
	User           string `json:"user"`
	DepositAmount  Amount `json:"deposit_amount"`
	CustodyBalance Amount `json:"custody_balance"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}
