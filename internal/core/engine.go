package core

import (
	"EscrowLedger/internal/custody"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/settlement"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLRUCapacity is the idempotency cache size used by main.
const DefaultLRUCapacity = 1_000_000

// EscrowCore is the single-threaded command processor. It owns the vault
// ledger and the custody book; nothing else mutates them.
type EscrowCore struct {
	sequence    int64
	hasher      *StateHasher
	book        *custody.Book
	vault       *ledger.VaultLedger // nil until VaultInitialized
	journalGen  *ledger.JournalGenerator
	engine      *settlement.Engine
	defaultMode settlement.Mode
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	// set while re-applying the event log; suppresses dedup and outputs
	replaying bool
}

// CoreOutput is one applied command plus the post-command state of every
// account it touched.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Receipt  *settlement.Receipt

	Vault    *ledger.VaultState
	Users    []ledger.UserAccount
	Balances map[identity.Identity]uint64

	StateDelta []byte
}

// Result is what the submitter of a command gets back.
type Result struct {
	Sequence  int64
	Duplicate bool
	Receipt   *settlement.Receipt
	Vault     *ledger.VaultState
	User      *ledger.UserAccount
	Err       error
}

// effect collects what a handler changed inside the staged scope.
type effect struct {
	vault     *ledger.VaultLedger
	transfers []ledger.Transfer
	receipt   *settlement.Receipt
	users     []identity.Identity
	accounts  []identity.Identity
}

func NewEscrowCore(
	startSequence int64,
	defaultMode settlement.Mode,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *EscrowCore {
	if !defaultMode.Valid() {
		defaultMode = settlement.ModeSignedFeeStrict
	}
	return &EscrowCore{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		book:           custody.NewBook(),
		journalGen:     ledger.NewJournalGenerator(startSequence),
		engine:         settlement.NewEngine(logger.With().Str("component", "settlement").Logger()),
		defaultMode:    defaultMode,
		idempotency:    NewIdempotencyChecker(DefaultLRUCapacity, dbChecker),
		metrics:        metrics,
		logger:         logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// ProcessEvent applies one command as an atomic unit. Every check runs
// against a staged custody scope and a cloned ledger; a failure discards
// both and nothing is logged.
func (c *EscrowCore) ProcessEvent(evt event.Event) Result {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	if !c.replaying {
		if dup, tier := c.idempotency.IsDuplicate(eventType, idempotencyKey); dup {
			if c.metrics != nil {
				c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
				c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
			}
			return Result{Sequence: -1, Duplicate: true}
		}
	}

	payload, err := event.Encode(evt)
	if err != nil {
		return c.reject(evt, fmt.Errorf("encode payload: %w", err))
	}

	// Step 2: Stage
	tx := c.book.Begin()
	var staged *ledger.VaultLedger
	if c.vault != nil {
		staged = c.vault.Clone()
	}

	// Step 3: Dispatch
	eff, err := c.dispatchEvent(tx, staged, evt)
	if err != nil {
		tx.Rollback()
		return c.reject(evt, err)
	}

	// Step 4: Post-checks against the staged state
	if eff.vault != nil {
		v := ledger.NewInvariantValidator(eff.vault)
		if err := v.ValidateConservation(); err != nil {
			tx.Rollback()
			return c.reject(evt, err)
		}
		if err := v.ValidateSolvency(tx.BalanceOf(eff.vault.State().VaultAddress)); err != nil {
			tx.Rollback()
			return c.reject(evt, fmt.Errorf("post-check solvency: %w", err))
		}
	}

	// Step 5: Journal
	c.journalGen.SetSequence(c.sequence)
	batch, err := c.journalGen.Generate(idempotencyKey, evt.OccurredAt().UnixMicro(), eff.transfers)
	if err != nil {
		tx.Rollback()
		return c.reject(evt, fmt.Errorf("journal: %w", err))
	}

	// Step 6: Commit
	if err := tx.Commit(); err != nil {
		return c.reject(evt, err)
	}
	if eff.vault != nil {
		c.vault = eff.vault
	}

	// Step 7: Hash chain
	output := c.buildOutput(eff, batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, output.StateDelta)

	output.Envelope = &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Timestamp:      evt.OccurredAt(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	// Step 8: Emit. Persist blocks (backpressure); projection drops when full.
	if !c.replaying {
		c.persistChan <- output

		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}

	// Step 9: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	res := Result{Sequence: c.sequence, Receipt: eff.receipt}
	if c.vault != nil {
		st := c.vault.State()
		res.Vault = &st
		if len(eff.users) == 1 {
			if acct, ok := c.vault.UserAccount(eff.users[0]); ok {
				res.User = &acct
			}
		}
	}

	c.sequence++
	c.recordApplied(evt, batch, eff, start)

	return res
}

func (c *EscrowCore) reject(evt event.Event, err error) Result {
	kind := ledger.Kind(err)
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(evt.EventType().String(), kind).Inc()
		if evt.EventType() == event.EventTypeSettlementRequested {
			mode := c.defaultMode
			if s, ok := evt.(*event.SettlementRequested); ok && s.Mode.Valid() {
				mode = s.Mode
			}
			c.metrics.SettlementsTotal.WithLabelValues(mode.String(), "rejected").Inc()
		}
	}

	ev := c.logger.Warn()
	if kind == "Internal" {
		ev = c.logger.Error()
	}
	ev.Err(err).
		Str("event_type", evt.EventType().String()).
		Str("idempotency_key", evt.IdempotencyKey()).
		Str("kind", kind).
		Msg("command rejected")

	return Result{Sequence: -1, Err: err}
}

func (c *EscrowCore) recordApplied(evt event.Event, batch *ledger.Batch, eff *effect, start time.Time) {
	if c.metrics == nil {
		return
	}
	eventType := evt.EventType().String()
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))

	for _, j := range batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}

	switch e := evt.(type) {
	case *event.DepositRequested:
		c.metrics.DepositsTotal.Inc()
		c.metrics.DepositVolume.Add(float64(e.Amount))
	case *event.SettlementRequested:
		if r := eff.receipt; r != nil {
			outcome := "applied"
			if r.IsPartial() {
				outcome = "partial"
			}
			c.metrics.SettlementsTotal.WithLabelValues(r.Mode.String(), outcome).Inc()
			c.metrics.SettlementPaid.WithLabelValues(r.Mode.String()).Add(float64(r.ActualPayout))
			c.metrics.SettlementShortfall.WithLabelValues(r.Mode.String()).Add(float64(r.Shortfall))
		}
	}

	if c.vault != nil {
		st := c.vault.State()
		c.metrics.VaultTotalDeposit.Set(float64(st.TotalDeposit))
		c.metrics.VaultCustodyBalance.Set(float64(c.book.BalanceOf(st.VaultAddress)))
		c.metrics.BackendCustodyBalance.Set(float64(c.book.BalanceOf(st.BackendWallet)))
	}
}

// buildOutput reads the committed state of every touched account and
// encodes the canonical state digest.
func (c *EscrowCore) buildOutput(eff *effect, batch *ledger.Batch) CoreOutput {
	output := CoreOutput{
		Batch:    batch,
		Receipt:  eff.receipt,
		Balances: make(map[identity.Identity]uint64),
	}

	touched := make(map[identity.Identity]bool)
	for _, t := range eff.transfers {
		touched[t.From] = true
		touched[t.To] = true
	}
	for _, a := range eff.accounts {
		touched[a] = true
	}
	delete(touched, identity.Zero)
	for a := range touched {
		output.Balances[a] = c.book.BalanceOf(a)
	}

	users := make(map[identity.Identity]bool)
	for _, u := range eff.users {
		users[u] = true
	}
	if c.vault != nil {
		st := c.vault.State()
		output.Vault = &st
		for _, t := range eff.transfers {
			if _, ok := c.vault.UserAccount(t.From); ok {
				users[t.From] = true
			}
			if _, ok := c.vault.UserAccount(t.To); ok {
				users[t.To] = true
			}
		}
		for u := range users {
			if acct, ok := c.vault.UserAccount(u); ok {
				output.Users = append(output.Users, acct)
			}
		}
		sort.Slice(output.Users, func(i, j int) bool {
			return output.Users[i].User.String() < output.Users[j].User.String()
		})
	}

	output.StateDelta = c.computeStateDigest(&output)
	return output
}

// computeStateDigest creates canonical bytes for state hash: total deposit,
// then touched user deposits and custody balances sorted by key.
func (c *EscrowCore) computeStateDigest(out *CoreOutput) []byte {
	type entry struct {
		key   string
		value uint64
	}
	entries := make([]entry, 0, len(out.Balances)+len(out.Users)+1)

	if out.Vault != nil {
		entries = append(entries, entry{key: "total_deposit", value: out.Vault.TotalDeposit})
	}
	for _, u := range out.Users {
		entries = append(entries, entry{key: "deposit:" + u.User.String(), value: u.DepositAmount})
	}
	for a, bal := range out.Balances {
		entries = append(entries, entry{key: "balance:" + a.String(), value: bal})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})

	digest := make([]byte, 0, len(entries)*64)
	for _, e := range entries {
		digest = append(digest, byte(len(e.key)))
		digest = append(digest, e.key...)
		digest = binary.LittleEndian.AppendUint64(digest, e.value)
	}
	return digest
}

// GetSequence returns the next sequence to assign. Call only from the core
// goroutine or before Run.
func (c *EscrowCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *EscrowCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Vault returns a copy of the vault record, false before initialization.
func (c *EscrowCore) Vault() (ledger.VaultState, bool) {
	if c.vault == nil {
		return ledger.VaultState{}, false
	}
	return c.vault.State(), true
}

// BalanceOf reads the committed custody book.
func (c *EscrowCore) BalanceOf(account identity.Identity) uint64 {
	return c.book.BalanceOf(account)
}
