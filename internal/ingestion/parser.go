package ingestion

import (
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/settlement"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedCommand marks a payload that can never be applied. Such
// messages are acked and dropped rather than redelivered.
var ErrMalformedCommand = errors.New("malformed command")

// ParseRawEvent decodes a NATS payload into a typed command. Identities
// are base58; amounts are integer minor units.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	var (
		evt event.Event
		err error
	)
	switch eventType {
	case "VaultInitialized":
		evt, err = parseVaultInitialized(raw)
	case "UserAccountOpened":
		evt, err = parseUserAccountOpened(raw)
	case "DepositRequested":
		evt, err = parseDepositRequested(raw)
	case "SettlementRequested":
		evt, err = parseSettlementRequested(raw)
	case "AccountFunded":
		evt, err = parseAccountFunded(raw)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedCommand, eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	return evt, nil
}

// --- JSON wire formats ---
// snake_case to match upstream producers. timestamp_us is optional; the
// receive time is used when it is absent.

type vaultInitializedJSON struct {
	CommandID     string `json:"command_id"`
	Authority     string `json:"authority"`
	BackendWallet string `json:"backend_wallet"`
	VaultAddress  string `json:"vault_address"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseVaultInitialized(raw RawEvent) (*event.VaultInitialized, error) {
	var j vaultInitializedJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse VaultInitialized: %w", err)
	}
	if err := requireID("command_id", j.CommandID); err != nil {
		return nil, err
	}

	authority, err := parseIdentity("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	backend, err := parseIdentity("backend_wallet", j.BackendWallet)
	if err != nil {
		return nil, err
	}
	vault, err := parseIdentity("vault_address", j.VaultAddress)
	if err != nil {
		return nil, err
	}

	return &event.VaultInitialized{
		CommandID:     j.CommandID,
		Authority:     authority,
		BackendWallet: backend,
		VaultAddress:  vault,
		Timestamp:     timestampOf(j.TimestampUs, raw),
	}, nil
}

type userAccountOpenedJSON struct {
	CommandID   string `json:"command_id"`
	User        string `json:"user"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseUserAccountOpened(raw RawEvent) (*event.UserAccountOpened, error) {
	var j userAccountOpenedJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse UserAccountOpened: %w", err)
	}
	if err := requireID("command_id", j.CommandID); err != nil {
		return nil, err
	}
	user, err := parseIdentity("user", j.User)
	if err != nil {
		return nil, err
	}

	return &event.UserAccountOpened{
		CommandID: j.CommandID,
		User:      user,
		Timestamp: timestampOf(j.TimestampUs, raw),
	}, nil
}

type depositRequestedJSON struct {
	DepositID   string `json:"deposit_id"`
	User        string `json:"user"`
	Amount      uint64 `json:"amount"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDepositRequested(raw RawEvent) (*event.DepositRequested, error) {
	var j depositRequestedJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositRequested: %w", err)
	}
	if err := requireID("deposit_id", j.DepositID); err != nil {
		return nil, err
	}
	user, err := parseIdentity("user", j.User)
	if err != nil {
		return nil, err
	}

	return &event.DepositRequested{
		DepositID: j.DepositID,
		User:      user,
		Amount:    j.Amount,
		Timestamp: timestampOf(j.TimestampUs, raw),
	}, nil
}

type settlementRequestedJSON struct {
	SettlementID string `json:"settlement_id"`
	Caller       string `json:"caller"` // optional; the token identity is the caller
	User         string `json:"user"`
	PayoutAmount uint64 `json:"payout_amount"`
	Fee          int64  `json:"fee"`
	Mode         string `json:"mode"` // empty selects the configured default
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseSettlementRequested(raw RawEvent) (*event.SettlementRequested, error) {
	var j settlementRequestedJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse SettlementRequested: %w", err)
	}
	if err := requireID("settlement_id", j.SettlementID); err != nil {
		return nil, err
	}
	var (
		caller identity.Identity
		err    error
	)
	if j.Caller != "" {
		if caller, err = parseIdentity("caller", j.Caller); err != nil {
			return nil, err
		}
	}
	user, err := parseIdentity("user", j.User)
	if err != nil {
		return nil, err
	}

	mode := settlement.ModeUnspecified
	if j.Mode != "" {
		if mode, err = settlement.ParseMode(j.Mode); err != nil {
			return nil, fmt.Errorf("parse mode: %w", err)
		}
	}

	return &event.SettlementRequested{
		SettlementID: j.SettlementID,
		CallerID:     caller,
		User:         user,
		PayoutAmount: j.PayoutAmount,
		Fee:          j.Fee,
		Mode:         mode,
		Timestamp:    timestampOf(j.TimestampUs, raw),
	}, nil
}

type accountFundedJSON struct {
	FundingID   string `json:"funding_id"`
	Account     string `json:"account"`
	Amount      uint64 `json:"amount"`
	Reporter    string `json:"reporter"` // optional; the token identity reports
	TimestampUs int64  `json:"timestamp_us"`
}

func parseAccountFunded(raw RawEvent) (*event.AccountFunded, error) {
	var j accountFundedJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse AccountFunded: %w", err)
	}
	if err := requireID("funding_id", j.FundingID); err != nil {
		return nil, err
	}
	account, err := parseIdentity("account", j.Account)
	if err != nil {
		return nil, err
	}

	var reporter identity.Identity
	if j.Reporter != "" {
		if reporter, err = parseIdentity("reporter", j.Reporter); err != nil {
			return nil, err
		}
	}

	return &event.AccountFunded{
		FundingID: j.FundingID,
		Account:   account,
		Amount:    j.Amount,
		Reporter:  reporter,
		Timestamp: timestampOf(j.TimestampUs, raw),
	}, nil
}

func parseIdentity(field, s string) (identity.Identity, error) {
	id, err := identity.Parse(s)
	if err != nil {
		return id, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

func requireID(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func timestampOf(us int64, raw RawEvent) time.Time {
	if us > 0 {
		return time.UnixMicro(us).UTC()
	}
	return raw.Timestamp.UTC()
}
