package settlement

import "fmt"

// Mode selects the fund-split policy of a settlement.
type Mode uint8

const (
	ModeUnspecified Mode = iota
	// ModeCollateralRefund seizes collateral from the vault to the backend,
	// then optionally refunds the user from the backend.
	ModeCollateralRefund
	// ModeSignedFeeStrict pays the user with a signed fee and fails when
	// the backend cannot fund a subsidy.
	ModeSignedFeeStrict
	// ModeSignedFeeBestEffort pays what the backend can when a subsidy is
	// underfunded instead of failing.
	ModeSignedFeeBestEffort
)

func (m Mode) String() string {
	switch m {
	case ModeCollateralRefund:
		return "collateral_refund"
	case ModeSignedFeeStrict:
		return "signed_fee_strict"
	case ModeSignedFeeBestEffort:
		return "signed_fee_best_effort"
	default:
		return "unspecified"
	}
}

// ParseMode accepts the String form of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "collateral_refund":
		return ModeCollateralRefund, nil
	case "signed_fee_strict":
		return ModeSignedFeeStrict, nil
	case "signed_fee_best_effort":
		return ModeSignedFeeBestEffort, nil
	default:
		return ModeUnspecified, fmt.Errorf("unknown settlement mode %q", s)
	}
}

func (m Mode) Valid() bool {
	return m >= ModeCollateralRefund && m <= ModeSignedFeeBestEffort
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
