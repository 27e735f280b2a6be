package query

import (
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the projection has no row for the request.
var ErrNotFound = errors.New("not found")

// MaxPageSize caps list queries.
const MaxPageSize = 500

// QueryService provides read-only access to the projection tables and
// the event log. Every response carries as_of_sequence, the projection
// watermark it was read at.
type QueryService struct {
	db       *sql.DB
	decimals DecimalConfig
}

func NewQueryService(db *sql.DB, decimals DecimalConfig) *QueryService {
	return &QueryService{db: db, decimals: decimals}
}

// GetVault returns the vault record and the custody balances backing it.
func (qs *QueryService) GetVault(ctx context.Context) (*VaultResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		resp  VaultResponse
		total decimal.Decimal
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT authority, backend_wallet, vault_address, total_deposit
		FROM projections.vault_state
		WHERE id = 1
	`).Scan(&resp.Authority, &resp.BackendWallet, &resp.VaultAddress, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	vaultBal, err := qs.getProjectedBalance(ctx, resp.VaultAddress)
	if err != nil {
		return nil, err
	}
	backendBal, err := qs.getProjectedBalance(ctx, resp.BackendWallet)
	if err != nil {
		return nil, err
	}

	surplus := vaultBal.Sub(total)
	if surplus.IsNegative() {
		surplus = decimal.Zero
	}

	resp.TotalDeposit = qs.decimals.amount(total)
	resp.VaultBalance = qs.decimals.amount(vaultBal)
	resp.BackendBalance = qs.decimals.amount(backendBal)
	resp.Surplus = qs.decimals.amount(surplus)
	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetUser returns user's deposit amount and custodial balance.
func (qs *QueryService) GetUser(ctx context.Context, user identity.Identity) (*UserResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var deposit decimal.Decimal
	err = qs.db.QueryRowContext(ctx, `
		SELECT deposit_amount FROM projections.user_deposits WHERE user_id = $1
	`, user.String()).Scan(&deposit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", user.Short(), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	balance, err := qs.getProjectedBalance(ctx, user.String())
	if err != nil {
		return nil, err
	}

	return &UserResponse{
		User:           user.String(),
		DepositAmount:  qs.decimals.amount(deposit),
		CustodyBalance: qs.decimals.amount(balance),
		AsOfSequence:   asOfSeq,
	}, nil
}

// GetBalance is balanceOf for any custodial account. Unknown accounts
// hold zero.
func (qs *QueryService) GetBalance(ctx context.Context, account identity.Identity) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		role    string
		balance decimal.Decimal
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT role, balance FROM projections.custody_balances WHERE account = $1
	`, account.String()).Scan(&role, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		role, balance = string(ledger.RoleUser), decimal.Zero
	} else if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Account:      account.String(),
		Role:         role,
		Balance:      qs.decimals.amount(balance),
		AsOfSequence: asOfSeq,
	}, nil
}

// GetSettlements returns user's settlements, newest first. Pass the last
// sequence seen as beforeSequence to page.
func (qs *QueryService) GetSettlements(
	ctx context.Context,
	user identity.Identity,
	limit int,
	beforeSequence *int64,
) ([]SettlementResponse, error) {
	query := `
		SELECT settlement_id, sequence, user_id, mode, payout_amount, fee,
		       requested_payout, actual_payout, shortfall, collateral_released,
		       transfers, settled_at
		FROM projections.settlements
		WHERE user_id = $1
	`
	args := []interface{}{user.String()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementResponse
	for rows.Next() {
		var (
			s                                              SettlementResponse
			payout, requested, actual, shortfall, released decimal.Decimal
			transfers                                      []byte
		)
		if err := rows.Scan(
			&s.SettlementID, &s.Sequence, &s.User, &s.Mode, &payout, &s.Fee,
			&requested, &actual, &shortfall, &released,
			&transfers, &s.SettledAt,
		); err != nil {
			return nil, err
		}
		s.PayoutAmount = qs.decimals.amount(payout)
		s.RequestedPayout = qs.decimals.amount(requested)
		s.ActualPayout = qs.decimals.amount(actual)
		s.Shortfall = qs.decimals.amount(shortfall)
		s.CollateralReleased = qs.decimals.amount(released)
		s.Transfers = transfers
		out = append(out, s)
	}

	return out, rows.Err()
}

// GetJournalHistory returns journal entries debiting or crediting account,
// newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account identity.Identity,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{account.String()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e           JournalHistoryEntry
			amount      decimal.Decimal
			journalType int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &amount, &journalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = qs.decimals.amount(amount)
		e.JournalType = ledger.JournalType(journalType).String()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log, then
// conservation and solvency on the projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report.AsOfSequence = asOfSeq

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var total, sum, vaultBal decimal.Decimal
	err = qs.db.QueryRowContext(ctx, `
		SELECT v.total_deposit,
		       COALESCE((SELECT SUM(deposit_amount) FROM projections.user_deposits), 0),
		       COALESCE((SELECT balance FROM projections.custody_balances WHERE account = v.vault_address), 0)
		FROM projections.vault_state v
		WHERE v.id = 1
	`).Scan(&total, &sum, &vaultBal)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	report.TotalDeposit = qs.decimals.amount(total)
	report.SumUserDeposits = qs.decimals.amount(sum)
	report.VaultBalance = qs.decimals.amount(vaultBal)
	report.ConservationBroken = !total.Equal(sum)
	report.Insolvent = vaultBal.LessThan(total)

	report.IsHealthy = len(report.HashChainBreaks) == 0 && !report.ConservationBroken && !report.Insolvent
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = 'escrow'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.custody_balances WHERE account = $1
	`, account).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return balance, err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
