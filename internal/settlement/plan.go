package settlement

import (
	"EscrowLedger/internal/ledger"
	fpmath "EscrowLedger/internal/math"
	"fmt"
)

// Party names a settlement participant before identities are resolved.
type Party uint8

const (
	PartyVault Party = iota + 1
	PartyBackend
	PartyUser
)

func (p Party) String() string {
	switch p {
	case PartyVault:
		return "vault"
	case PartyBackend:
		return "backend"
	case PartyUser:
		return "user"
	default:
		return "unknown"
	}
}

// Leg is one planned transfer between parties.
type Leg struct {
	From   Party
	To     Party
	Amount uint64
	Type   ledger.JournalType
}

// Inputs is everything the split depends on. Balances are the authoritative
// custodial balances at planning time.
type Inputs struct {
	Mode           Mode
	PayoutAmount   uint64
	Fee            int64
	VaultBalance   uint64
	BackendBalance uint64
	UserDeposit    uint64
}

// Plan is the fully decided outcome of a settlement. Producing a Plan has
// no side effects; every failure of the split is raised here.
type Plan struct {
	Mode Mode
	Legs []Leg

	// Collateral is handed to VaultLedger.DebitAll.
	Collateral uint64
	// VaultOutflow is the sum of vault-sourced legs.
	VaultOutflow uint64

	RequestedPayout uint64
	ActualPayout    uint64
	FeeApplied      int64
}

// Shortfall is what the user was owed but not paid.
func (p *Plan) Shortfall() uint64 {
	return p.RequestedPayout - p.ActualPayout
}

// Compute decides the branch and every transfer for in. It is deterministic.
func Compute(in Inputs) (*Plan, error) {
	switch in.Mode {
	case ModeCollateralRefund:
		return computeCollateralRefund(in)
	case ModeSignedFeeStrict, ModeSignedFeeBestEffort:
		if in.Fee >= 0 {
			return computeFeeFromVault(in)
		}
		return computeSubsidy(in)
	default:
		return nil, fmt.Errorf("%w: settlement mode %s", ledger.ErrInvalidConfiguration, in.Mode)
	}
}

// PayoutAmount is collateral; a positive Fee is a refund from the backend.
func computeCollateralRefund(in Inputs) (*Plan, error) {
	collateral := in.PayoutAmount
	if err := ledger.AssertSufficientVaultBalance(in.VaultBalance, collateral); err != nil {
		return nil, err
	}

	plan := &Plan{
		Mode:         in.Mode,
		Collateral:   collateral,
		VaultOutflow: collateral,
		FeeApplied:   in.Fee,
		Legs: []Leg{
			{From: PartyVault, To: PartyBackend, Amount: collateral, Type: ledger.JournalTypeCollateral},
		},
	}

	if in.Fee > 0 {
		refund := uint64(in.Fee)
		// the refund is checked against the backend after it received the collateral
		backendAfter, err := fpmath.CheckedAdd(in.BackendBalance, collateral)
		if err != nil {
			return nil, fmt.Errorf("%w: backend balance %d + collateral %d",
				ledger.ErrArithmeticOverflow, in.BackendBalance, collateral)
		}
		if refund > backendAfter {
			return nil, fmt.Errorf("%w: refund %d, backend holds %d after collateral",
				ledger.ErrInsufficientBackendBalance, refund, backendAfter)
		}
		plan.Legs = append(plan.Legs, Leg{From: PartyBackend, To: PartyUser, Amount: refund, Type: ledger.JournalTypeRefund})
		plan.RequestedPayout = refund
		plan.ActualPayout = refund
	}

	return plan, nil
}

// The user bears a non-negative fee out of the vault-funded payout.
func computeFeeFromVault(in Inputs) (*Plan, error) {
	fee := uint64(in.Fee)
	if in.PayoutAmount <= fee {
		return nil, fmt.Errorf("%w: payout %d, fee %d", ledger.ErrInsufficientPayout, in.PayoutAmount, fee)
	}
	if err := ledger.AssertSufficientVaultBalance(in.VaultBalance, in.PayoutAmount); err != nil {
		return nil, err
	}

	net := in.PayoutAmount - fee
	return &Plan{
		Mode: in.Mode,
		Legs: []Leg{
			{From: PartyVault, To: PartyBackend, Amount: fee, Type: ledger.JournalTypeFee},
			{From: PartyVault, To: PartyUser, Amount: net, Type: ledger.JournalTypePayout},
		},
		Collateral:      fpmath.MinU64(in.PayoutAmount, in.UserDeposit),
		VaultOutflow:    in.PayoutAmount,
		RequestedPayout: net,
		ActualPayout:    net,
		FeeApplied:      in.Fee,
	}, nil
}

// A negative fee is a backend subsidy: the backend pays payout+|fee|
// straight to the user and the vault is not touched.
func computeSubsidy(in Inputs) (*Plan, error) {
	feeAmount := fpmath.Magnitude(in.Fee)
	desired, err := fpmath.CheckedAdd(in.PayoutAmount, feeAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: payout %d + subsidy %d",
			ledger.ErrArithmeticOverflow, in.PayoutAmount, feeAmount)
	}

	paid := desired
	if in.BackendBalance < desired {
		if in.Mode == ModeSignedFeeStrict {
			return nil, fmt.Errorf("%w: subsidy needs %d, backend holds %d",
				ledger.ErrInsufficientBackendBalance, desired, in.BackendBalance)
		}
		paid = in.BackendBalance
	}

	return &Plan{
		Mode: in.Mode,
		Legs: []Leg{
			{From: PartyBackend, To: PartyUser, Amount: paid, Type: ledger.JournalTypeSubsidy},
		},
		RequestedPayout: desired,
		ActualPayout:    paid,
		FeeApplied:      in.Fee,
	}, nil
}
