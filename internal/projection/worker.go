package projection

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	fpmath "EscrowLedger/internal/math"
	"EscrowLedger/internal/observability"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// WatermarkName is the watermark row owned by the worker.
const WatermarkName = "escrow"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ProjectionWorker keeps the read-side tables current. It is fed
// non-blocking by the core, so it may miss outputs; every row it writes
// is an absolute post-command value, so the next output touching the same
// account repairs it, and Rebuild resyncs everything from core state.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	onApplied func(core.CoreOutput)
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// OnApplied registers fn to run after an output's projection commits.
// main uses it to publish outbound notifications.
func (pw *ProjectionWorker) OnApplied(fn func(core.CoreOutput)) {
	pw.onApplied = fn
}

// LastSequence is the last sequence projected, -1 before the first.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// eventually consistent; Rebuild resyncs
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.Inc()
				}
				continue
			}

			pw.lastSeq = output.Envelope.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionLastSequence.Set(float64(pw.lastSeq))
			}
			if pw.onApplied != nil {
				pw.onApplied(output)
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ApplyOutput(ctx, tx, output); err != nil {
		return err
	}

	return tx.Commit()
}

// ApplyOutput writes every projection row affected by output.
func ApplyOutput(ctx context.Context, db DBTX, output core.CoreOutput) error {
	seq := output.Envelope.Sequence
	at := output.Envelope.Timestamp

	if output.Vault != nil {
		if err := upsertVault(ctx, db, *output.Vault, seq, at); err != nil {
			return fmt.Errorf("vault projection: %w", err)
		}
	}

	for _, u := range output.Users {
		if err := upsertUserDeposit(ctx, db, u, seq, at); err != nil {
			return fmt.Errorf("user deposit projection: %w", err)
		}
	}

	for _, account := range sortedAccounts(output.Balances) {
		balance := output.Balances[account]
		if err := upsertBalance(ctx, db, account, roleOf(output.Vault, account), balance, seq, at); err != nil {
			return fmt.Errorf("custody balance projection: %w", err)
		}
	}

	if r := output.Receipt; r != nil {
		transfers, err := json.Marshal(r.Transfers)
		if err != nil {
			return fmt.Errorf("marshal transfers: %w", err)
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO projections.settlements (
				settlement_id, sequence, user_id, mode, payout_amount, fee,
				requested_payout, actual_payout, shortfall, collateral_released,
				transfers, settled_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (settlement_id) DO NOTHING
		`,
			r.SettlementID, seq, r.User.String(), r.Mode.String(),
			fpmath.MinorUnits(r.PayoutAmount), r.FeeApplied,
			fpmath.MinorUnits(r.RequestedPayout), fpmath.MinorUnits(r.ActualPayout),
			fpmath.MinorUnits(r.Shortfall), fpmath.MinorUnits(r.CollateralReleased),
			transfers, time.UnixMicro(r.Timestamp).UTC(),
		); err != nil {
			return fmt.Errorf("settlement projection: %w", err)
		}
	}

	return setWatermark(ctx, db, seq)
}

func upsertVault(ctx context.Context, db DBTX, v ledger.VaultState, seq int64, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.vault_state (id, authority, backend_wallet, vault_address, total_deposit, last_sequence, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			total_deposit = EXCLUDED.total_deposit,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = EXCLUDED.updated_at
		WHERE projections.vault_state.last_sequence <= EXCLUDED.last_sequence
	`, v.Authority.String(), v.BackendWallet.String(), v.VaultAddress.String(),
		fpmath.MinorUnits(v.TotalDeposit), seq, at)
	return err
}

func upsertUserDeposit(ctx context.Context, db DBTX, u ledger.UserAccount, seq int64, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.user_deposits (user_id, deposit_amount, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			deposit_amount = EXCLUDED.deposit_amount,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = EXCLUDED.updated_at
		WHERE projections.user_deposits.last_sequence <= EXCLUDED.last_sequence
	`, u.User.String(), fpmath.MinorUnits(u.DepositAmount), seq, at)
	return err
}

func upsertBalance(ctx context.Context, db DBTX, account identity.Identity, role ledger.Role, balance uint64, seq int64, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.custody_balances (account, role, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account) DO UPDATE SET
			role = EXCLUDED.role,
			balance = EXCLUDED.balance,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = EXCLUDED.updated_at
		WHERE projections.custody_balances.last_sequence <= EXCLUDED.last_sequence
	`, account.String(), string(role), fpmath.MinorUnits(balance), seq, at)
	return err
}

func setWatermark(ctx context.Context, db DBTX, seq int64) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $2), updated_at = NOW()
	`, WatermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// sortedAccounts fixes the row lock order.
func sortedAccounts(balances map[identity.Identity]uint64) []identity.Identity {
	accounts := make([]identity.Identity, 0, len(balances))
	for a := range balances {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})
	return accounts
}

// roleUnassigned labels accounts funded before the vault exists.
const roleUnassigned ledger.Role = "unassigned"

func roleOf(v *ledger.VaultState, account identity.Identity) ledger.Role {
	if v == nil {
		return roleUnassigned
	}
	return v.RoleOf(account)
}

// Rebuild replaces the state projections with snap, the core's own view.
// Settlement history is append-only and left as is.
func Rebuild(ctx context.Context, db *sql.DB, snap *core.SnapshotState, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.vault_state`,
		`TRUNCATE projections.user_deposits`,
		`TRUNCATE projections.custody_balances`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	at := time.Now().UTC()
	var vault *ledger.VaultState
	if snap.Ledger != nil {
		st := snap.Ledger.State
		vault = &st
		if err := upsertVault(ctx, tx, st, snap.Sequence, at); err != nil {
			return fmt.Errorf("rebuild vault: %w", err)
		}
		for _, u := range snap.Ledger.Users {
			if err := upsertUserDeposit(ctx, tx, u, snap.Sequence, at); err != nil {
				return fmt.Errorf("rebuild user deposits: %w", err)
			}
		}
	}

	for _, account := range sortedAccounts(snap.Book.Balances) {
		balance := snap.Book.Balances[account]
		if account.IsZero() {
			continue
		}
		if err := upsertBalance(ctx, tx, account, roleOf(vault, account), balance, snap.Sequence, at); err != nil {
			return fmt.Errorf("rebuild balances: %w", err)
		}
	}

	if snap.Sequence >= 0 {
		if err := setWatermark(ctx, tx, snap.Sequence); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Int64("sequence", snap.Sequence).Msg("projection rebuild complete")
	return nil
}
