package custody

import (
	"fmt"
	"sort"
	"sync"

	"EscrowLedger/internal/identity"
	fpmath "EscrowLedger/internal/math"
)

// Book is an in-process custodial environment. Mutations go through a Tx so
// that a failing operation leaves no partial balance change.
type Book struct {
	mu       sync.RWMutex
	balances map[identity.Identity]uint64
	vaults   map[identity.Identity]struct{}
}

func NewBook() *Book {
	return &Book{
		balances: make(map[identity.Identity]uint64),
		vaults:   make(map[identity.Identity]struct{}),
	}
}

func (b *Book) BalanceOf(account identity.Identity) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[account]
}

func (b *Book) IsVault(account identity.Identity) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.vaults[account]
	return ok
}

func (b *Book) AuthorizeVaultTransfer(vault identity.Identity) (AuthorityToken, error) {
	if !b.IsVault(vault) {
		return AuthorityToken{}, fmt.Errorf("%w: %s", ErrNotVault, vault)
	}
	return vaultAuthority(vault), nil
}

// Transfer applies a single move in its own scope.
func (b *Book) Transfer(from, to identity.Identity, amount uint64, authority AuthorityToken) error {
	tx := b.Begin()
	if err := tx.Transfer(from, to, amount, authority); err != nil {
		return err
	}
	return tx.Commit()
}

// Fund credits an account from outside the escrow, e.g. an on-chain top-up.
func (b *Book) Fund(account identity.Identity, amount uint64) error {
	tx := b.Begin()
	if err := tx.Fund(account, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// RegisterVault marks account as a program-owned vault. Only vault tokens
// can debit it afterwards.
func (b *Book) RegisterVault(account identity.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vaults[account] = struct{}{}
}

// Begin opens a staged scope over the book.
func (b *Book) Begin() *Tx {
	return &Tx{
		book:     b,
		balances: make(map[identity.Identity]uint64),
		vaults:   make(map[identity.Identity]struct{}),
	}
}

// BookSnapshot is the serializable state of a Book.
type BookSnapshot struct {
	Balances map[identity.Identity]uint64 `json:"balances"`
	Vaults   []identity.Identity          `json:"vaults"`
}

// Snapshot returns a deep copy of the book state. Vaults are sorted so
// that equal books produce equal snapshots.
func (b *Book) Snapshot() BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := BookSnapshot{
		Balances: make(map[identity.Identity]uint64, len(b.balances)),
		Vaults:   make([]identity.Identity, 0, len(b.vaults)),
	}
	for k, v := range b.balances {
		snap.Balances[k] = v
	}
	for k := range b.vaults {
		snap.Vaults = append(snap.Vaults, k)
	}
	sort.Slice(snap.Vaults, func(i, j int) bool {
		return snap.Vaults[i].String() < snap.Vaults[j].String()
	})
	return snap
}

// Restore replaces the book state with snap.
func (b *Book) Restore(snap BookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.balances = make(map[identity.Identity]uint64, len(snap.Balances))
	for k, v := range snap.Balances {
		b.balances[k] = v
	}
	b.vaults = make(map[identity.Identity]struct{}, len(snap.Vaults))
	for _, v := range snap.Vaults {
		b.vaults[v] = struct{}{}
	}
}

// Tx stages balance changes against a Book. It is not safe for concurrent use.
type Tx struct {
	book     *Book
	balances map[identity.Identity]uint64
	vaults   map[identity.Identity]struct{}
	done     bool
}

func (tx *Tx) BalanceOf(account identity.Identity) uint64 {
	if v, ok := tx.balances[account]; ok {
		return v
	}
	return tx.book.BalanceOf(account)
}

func (tx *Tx) isVault(account identity.Identity) bool {
	if _, ok := tx.vaults[account]; ok {
		return true
	}
	return tx.book.IsVault(account)
}

func (tx *Tx) AuthorizeVaultTransfer(vault identity.Identity) (AuthorityToken, error) {
	if !tx.isVault(vault) {
		return AuthorityToken{}, fmt.Errorf("%w: %s", ErrNotVault, vault)
	}
	return vaultAuthority(vault), nil
}

func (tx *Tx) RegisterVault(account identity.Identity) {
	tx.vaults[account] = struct{}{}
}

func (tx *Tx) Transfer(from, to identity.Identity, amount uint64, authority AuthorityToken) error {
	if tx.done {
		return fmt.Errorf("custody: transfer on finished tx")
	}
	if !authority.Covers(from) {
		return fmt.Errorf("%w: %s token for %s, source %s",
			ErrUnauthorizedTransfer, authority.Kind(), authority.Account(), from)
	}
	// vault funds move only under the vault's delegated capability
	if tx.isVault(from) && authority.Kind() != AuthorityVault {
		return fmt.Errorf("%w: vault %s requires vault authority", ErrUnauthorizedTransfer, from)
	}
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, from)
	}

	fromBal := tx.BalanceOf(from)
	if fromBal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, fromBal, amount)
	}
	toBal, err := fpmath.CheckedAdd(tx.BalanceOf(to), amount)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
	}

	tx.balances[from] = fromBal - amount
	tx.balances[to] = toBal
	return nil
}

func (tx *Tx) Fund(account identity.Identity, amount uint64) error {
	if tx.done {
		return fmt.Errorf("custody: fund on finished tx")
	}
	bal, err := fpmath.CheckedAdd(tx.BalanceOf(account), amount)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, account)
	}
	tx.balances[account] = bal
	return nil
}

// Commit publishes all staged changes to the book at once.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("custody: tx already finished")
	}
	tx.done = true

	b := tx.book
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range tx.balances {
		b.balances[k] = v
	}
	for k := range tx.vaults {
		b.vaults[k] = struct{}{}
	}
	return nil
}

// Rollback discards staged changes. Safe to call after Commit.
func (tx *Tx) Rollback() {
	tx.done = true
	tx.balances = nil
	tx.vaults = nil
}
