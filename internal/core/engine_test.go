package core_test

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/custody"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/settlement"
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(b byte) identity.Identity {
	var id identity.Identity
	id[0] = b
	id[31] = 0xCD
	return id
}

var (
	authority = ident(1)
	backend   = ident(2)
	vaultAddr = ident(3)
	alice     = ident(10)
	bob       = ident(11)

	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	core    *core.EscrowCore
	persist chan core.CoreOutput
	project chan core.CoreOutput
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	persist := make(chan core.CoreOutput, 256)
	project := make(chan core.CoreOutput, 256)
	c := core.NewEscrowCore(0, settlement.ModeSignedFeeStrict, persist, project, nil, nil, zerolog.Nop())
	return &harness{core: c, persist: persist, project: project}
}

func (h *harness) apply(t *testing.T, evt event.Event) core.Result {
	t.Helper()
	return h.core.ProcessEvent(evt)
}

func (h *harness) mustApply(t *testing.T, evt event.Event) core.Result {
	t.Helper()
	res := h.core.ProcessEvent(evt)
	require.NoError(t, res.Err, "%s", evt.IdempotencyKey())
	require.False(t, res.Duplicate)
	return res
}

func (h *harness) drain() []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-h.persist:
			out = append(out, o)
		default:
			return out
		}
	}
}

func initVault(id string) *event.VaultInitialized {
	return &event.VaultInitialized{
		CommandID:     id,
		Authority:     authority,
		BackendWallet: backend,
		VaultAddress:  vaultAddr,
		Timestamp:     t0,
	}
}

func fund(id string, account identity.Identity, amount uint64) *event.AccountFunded {
	return &event.AccountFunded{FundingID: id, Account: account, Amount: amount, Timestamp: t0}
}

func deposit(id string, user identity.Identity, amount uint64) *event.DepositRequested {
	return &event.DepositRequested{DepositID: id, User: user, Amount: amount, Timestamp: t0}
}

func settle(id string, caller, user identity.Identity, payout uint64, fee int64, mode settlement.Mode) *event.SettlementRequested {
	return &event.SettlementRequested{
		SettlementID: id,
		CallerID:     caller,
		User:         user,
		PayoutAmount: payout,
		Fee:          fee,
		Mode:         mode,
		Timestamp:    t0,
	}
}

// seeded: vault initialized, alice deposited 300 and bob 200 from funded
// wallets, backend holds backendFunds.
func seeded(t *testing.T, backendFunds uint64) *harness {
	t.Helper()
	h := newHarness(t)
	h.mustApply(t, initVault("v1"))
	h.mustApply(t, fund("f-alice", alice, 1000))
	h.mustApply(t, fund("f-bob", bob, 1000))
	if backendFunds > 0 {
		h.mustApply(t, fund("f-backend", backend, backendFunds))
	}
	h.mustApply(t, deposit("d-alice", alice, 300))
	h.mustApply(t, deposit("d-bob", bob, 200))
	return h
}

// =============================================================================
// Deposit
// =============================================================================

func TestDeposit_MovesFundsAndBooks(t *testing.T) {
	h := newHarness(t)
	h.mustApply(t, initVault("v1"))
	h.mustApply(t, fund("f1", alice, 1000))
	h.drain()

	res := h.mustApply(t, deposit("d1", alice, 300))

	require.NotNil(t, res.User)
	assert.Equal(t, uint64(300), res.User.DepositAmount)
	assert.Equal(t, uint64(300), res.Vault.TotalDeposit)
	assert.Equal(t, uint64(700), h.core.BalanceOf(alice))
	assert.Equal(t, uint64(300), h.core.BalanceOf(vaultAddr))

	out := h.drain()
	require.Len(t, out, 1)
	assert.Equal(t, res.Sequence, out[0].Envelope.Sequence)
	assert.Equal(t, "deposit:"+alice.String()+":d1", out[0].Envelope.IdempotencyKey)
	require.Len(t, out[0].Batch.Journals, 1)
	j := out[0].Batch.Journals[0]
	assert.Equal(t, alice, j.CreditAccount)
	assert.Equal(t, vaultAddr, j.DebitAccount)
	assert.Equal(t, ledger.JournalTypeDeposit, j.JournalType)
	assert.Equal(t, uint64(700), out[0].Balances[alice])
	require.Len(t, out[0].Users, 1)
	assert.Equal(t, uint64(300), out[0].Users[0].DepositAmount)
}

func TestDeposit_BeforeInitialize(t *testing.T) {
	h := newHarness(t)
	res := h.apply(t, deposit("d1", alice, 1))
	assert.ErrorIs(t, res.Err, ledger.ErrNotInitialized)
	assert.Equal(t, int64(0), h.core.GetSequence())
	assert.Empty(t, h.drain())
}

func TestDeposit_DuplicateIsSkipped(t *testing.T) {
	h := seeded(t, 0)
	h.drain()
	seq := h.core.GetSequence()

	res := h.apply(t, deposit("d-alice", alice, 300))
	assert.True(t, res.Duplicate)
	assert.NoError(t, res.Err)
	assert.Equal(t, seq, h.core.GetSequence())
	assert.Equal(t, uint64(700), h.core.BalanceOf(alice))
	assert.Empty(t, h.drain())
}

func TestDeposit_SameIDFromAnotherUserIsApplied(t *testing.T) {
	h := newHarness(t)
	h.mustApply(t, initVault("v1"))
	h.mustApply(t, fund("f-alice", alice, 1000))
	h.mustApply(t, fund("f-bob", bob, 1000))
	h.mustApply(t, deposit("dep-1", alice, 300))

	res := h.apply(t, deposit("dep-1", bob, 200))
	require.NoError(t, res.Err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, uint64(500), res.Vault.TotalDeposit)
	assert.Equal(t, uint64(800), h.core.BalanceOf(bob))

	again := h.apply(t, deposit("dep-1", bob, 200))
	assert.True(t, again.Duplicate)
}

func TestDeposit_InsufficientFundsIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.mustApply(t, initVault("v1"))

	res := h.apply(t, deposit("d1", alice, 50))
	assert.ErrorIs(t, res.Err, ledger.ErrTransferFailed)
	assert.ErrorIs(t, res.Err, custody.ErrInsufficientFunds)

	vault, ok := h.core.Vault()
	require.True(t, ok)
	assert.Zero(t, vault.TotalDeposit)

	// rejected commands are not remembered
	h.mustApply(t, fund("f1", alice, 50))
	res = h.mustApply(t, deposit("d1", alice, 50))
	assert.Equal(t, uint64(50), res.Vault.TotalDeposit)
}

func TestDeposit_OverflowLeavesEverythingUnchanged(t *testing.T) {
	h := newHarness(t)
	h.mustApply(t, initVault("v1"))
	h.mustApply(t, fund("f-alice", alice, math.MaxUint64))
	h.mustApply(t, deposit("d-alice", alice, math.MaxUint64))
	h.mustApply(t, fund("f-bob", bob, 1))
	hashBefore := h.core.GetStateHash()

	res := h.apply(t, deposit("d-bob", bob, 1))
	assert.ErrorIs(t, res.Err, ledger.ErrArithmeticOverflow)

	vault, _ := h.core.Vault()
	assert.Equal(t, uint64(math.MaxUint64), vault.TotalDeposit)
	assert.Equal(t, uint64(1), h.core.BalanceOf(bob))
	assert.Equal(t, uint64(math.MaxUint64), h.core.BalanceOf(vaultAddr))
	assert.Equal(t, hashBefore, h.core.GetStateHash())
}

// =============================================================================
// Settlement through the core
// =============================================================================

func TestSettlement_UnauthorizedChangesNothing(t *testing.T) {
	h := seeded(t, 1000)
	h.drain()
	seq := h.core.GetSequence()

	res := h.apply(t, settle("s1", alice, alice, 200, -50, settlement.ModeSignedFeeStrict))
	assert.ErrorIs(t, res.Err, ledger.ErrUnauthorized)
	assert.Equal(t, seq, h.core.GetSequence())
	assert.Equal(t, uint64(1000), h.core.BalanceOf(backend))
	assert.Equal(t, uint64(700), h.core.BalanceOf(alice))
	assert.Empty(t, h.drain())
}

func TestSettlement_SubsidyStrict(t *testing.T) {
	h := seeded(t, 1000)

	res := h.mustApply(t, settle("s1", backend, alice, 200, -50, settlement.ModeSignedFeeStrict))

	require.NotNil(t, res.Receipt)
	assert.Equal(t, uint64(250), res.Receipt.ActualPayout)
	assert.Equal(t, uint64(950), h.core.BalanceOf(alice))
	assert.Equal(t, uint64(750), h.core.BalanceOf(backend))
	assert.Equal(t, uint64(500), h.core.BalanceOf(vaultAddr))
	assert.Zero(t, res.User.DepositAmount)
	assert.Equal(t, uint64(200), res.Vault.TotalDeposit)
}

func TestSettlement_BestEffortShortfall(t *testing.T) {
	h := seeded(t, 30)

	res := h.mustApply(t, settle("s1", backend, alice, 200, -50, settlement.ModeSignedFeeBestEffort))

	assert.Equal(t, uint64(30), res.Receipt.ActualPayout)
	assert.Equal(t, uint64(220), res.Receipt.Shortfall)
	assert.Zero(t, h.core.BalanceOf(backend))
	assert.Equal(t, uint64(730), h.core.BalanceOf(alice))
}

func TestSettlement_DefaultModeApplies(t *testing.T) {
	h := seeded(t, 30)

	// core default is strict
	res := h.apply(t, settle("s1", backend, alice, 200, -50, settlement.ModeUnspecified))
	assert.ErrorIs(t, res.Err, ledger.ErrInsufficientBackendBalance)
	assert.Equal(t, uint64(30), h.core.BalanceOf(backend))
}

func TestSettlement_FeeSplitJournals(t *testing.T) {
	h := seeded(t, 0)
	h.drain()

	h.mustApply(t, settle("s1", backend, alice, 300, 40, settlement.ModeSignedFeeStrict))

	out := h.drain()
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Receipt)
	js := out[0].Batch.Journals
	require.Len(t, js, 2)
	assert.Equal(t, ledger.JournalTypeFee, js[0].JournalType)
	assert.Equal(t, uint64(40), js[0].Amount)
	assert.Equal(t, ledger.JournalTypePayout, js[1].JournalType)
	assert.Equal(t, uint64(260), js[1].Amount)
	assert.Equal(t, uint64(200), out[0].Vault.TotalDeposit)
}

// =============================================================================
// Funding and initialization
// =============================================================================

func TestAccountFunded_ReporterMustBeAuthority(t *testing.T) {
	h := newHarness(t)
	h.mustApply(t, initVault("v1"))

	evt := fund("f1", vaultAddr, 10)
	evt.Reporter = alice
	res := h.apply(t, evt)
	assert.ErrorIs(t, res.Err, ledger.ErrUnauthorized)

	evt.Reporter = authority
	h.mustApply(t, evt)
	assert.Equal(t, uint64(10), h.core.BalanceOf(vaultAddr))

	vault, _ := h.core.Vault()
	assert.Zero(t, vault.TotalDeposit, "external funds never reach total deposit")
}

func TestVaultInitialized_Twice(t *testing.T) {
	h := newHarness(t)
	h.mustApply(t, initVault("v1"))
	res := h.apply(t, initVault("v2"))
	assert.ErrorIs(t, res.Err, ledger.ErrAlreadyInitialized)
}

func TestVaultInitialized_InvalidConfiguration(t *testing.T) {
	h := newHarness(t)
	evt := initVault("v1")
	evt.BackendWallet = identity.Zero
	res := h.apply(t, evt)
	assert.ErrorIs(t, res.Err, ledger.ErrInvalidConfiguration)
	_, ok := h.core.Vault()
	assert.False(t, ok)
}

func TestUserAccountOpened(t *testing.T) {
	h := newHarness(t)
	h.mustApply(t, initVault("v1"))
	res := h.mustApply(t, &event.UserAccountOpened{CommandID: "u1", User: alice, Timestamp: t0})
	require.NotNil(t, res.User)
	assert.Equal(t, alice, res.User.User)
	assert.Zero(t, res.User.DepositAmount)
}

// =============================================================================
// Hash chain, snapshot, replay
// =============================================================================

func TestHashChain_Links(t *testing.T) {
	h := seeded(t, 100)
	out := h.drain()
	require.NotEmpty(t, out)

	prev := core.GenesisHash()
	for i, o := range out {
		assert.Equal(t, int64(i), o.Envelope.Sequence)
		assert.Equal(t, prev, o.Envelope.PrevHash)
		assert.Equal(t, core.ChainHash(prev, o.Envelope.Sequence, o.StateDelta), o.Envelope.StateHash)
		prev = o.Envelope.StateHash
	}
	assert.Equal(t, prev, h.core.GetStateHash())
}

func TestSnapshot_RestoreContinuesChain(t *testing.T) {
	h := seeded(t, 500)
	snap := h.core.CreateSnapshotState()

	restored := newHarness(t)
	require.NoError(t, restored.core.RestoreFromSnapshot(snap))
	assert.Equal(t, h.core.GetSequence(), restored.core.GetSequence())
	assert.Equal(t, h.core.GetStateHash(), restored.core.GetStateHash())

	// LRU was warmed from the snapshot
	dup := restored.apply(t, deposit("d-alice", alice, 300))
	assert.True(t, dup.Duplicate)

	next := settle("s1", backend, bob, 100, -20, settlement.ModeSignedFeeStrict)
	a := h.mustApply(t, next)
	b := restored.mustApply(t, next)
	assert.Equal(t, a.Sequence, b.Sequence)
	assert.Equal(t, h.core.GetStateHash(), restored.core.GetStateHash())
}

func TestReplay_ReproducesLog(t *testing.T) {
	h := seeded(t, 500)
	h.mustApply(t, settle("s1", backend, alice, 300, 25, settlement.ModeSignedFeeStrict))
	out := h.drain()

	replica := newHarness(t)
	for _, o := range out {
		require.NoError(t, replica.core.ReplayEnvelope(o.Envelope))
	}
	assert.Equal(t, h.core.GetStateHash(), replica.core.GetStateHash())
	assert.Equal(t, h.core.BalanceOf(alice), replica.core.BalanceOf(alice))
	assert.Empty(t, replica.drain(), "replay does not re-emit outputs")
}

func TestReplay_DetectsTamperedPayload(t *testing.T) {
	h := seeded(t, 0)
	out := h.drain()

	replica := newHarness(t)
	for _, o := range out[:len(out)-1] {
		require.NoError(t, replica.core.ReplayEnvelope(o.Envelope))
	}

	last := *out[len(out)-1].Envelope
	tampered, err := event.Encode(deposit("d-bob", bob, 150))
	require.NoError(t, err)
	last.Payload = tampered

	err = replica.core.ReplayEnvelope(&last)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state hash mismatch")
}

func TestReplay_SequenceGap(t *testing.T) {
	h := seeded(t, 0)
	out := h.drain()

	replica := newHarness(t)
	err := replica.core.ReplayEnvelope(out[1].Envelope)
	require.Error(t, err)
}

// =============================================================================
// Run loop
// =============================================================================

func TestRun_RepliesAndSnapshots(t *testing.T) {
	h := newHarness(t)
	commands := make(chan core.Command)
	snaps := make(chan *core.SnapshotState, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.core.Run(ctx, commands, core.SnapshotPolicy{Interval: 2, Out: snaps})
	}()

	submit := func(evt event.Event) core.Result {
		reply := make(chan core.Result, 1)
		commands <- core.Command{Event: evt, Reply: reply}
		return <-reply
	}

	require.NoError(t, submit(initVault("v1")).Err)
	require.NoError(t, submit(fund("f1", alice, 100)).Err)
	res := submit(deposit("d1", alice, 60))
	require.NoError(t, res.Err)
	assert.Equal(t, int64(2), res.Sequence)

	close(commands)
	require.NoError(t, <-done)

	require.Len(t, snaps, 1)
	snap := <-snaps
	assert.Equal(t, int64(1), snap.Sequence)
}

func TestRun_AppliesQueuedCommandsOnShutdown(t *testing.T) {
	h := newHarness(t)
	commands := make(chan core.Command, 4)

	replies := make(chan core.Result, 2)
	commands <- core.Command{Event: initVault("v1"), Reply: replies}
	commands <- core.Command{Event: fund("f1", alice, 100), Reply: replies}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.core.Run(ctx, commands, core.SnapshotPolicy{})
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, replies, 2)
	assert.Equal(t, int64(2), h.core.GetSequence())
	assert.Equal(t, uint64(100), h.core.BalanceOf(alice))
}
