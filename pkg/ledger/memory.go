package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MemoryStore is a map-backed Store. One mutex gives the global serial order;
// a transaction works on clones of the accounts it touches and publishes them
// only on commit, so a failed operation leaves zero side effects.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[Address]*Account
	clock    clock.Clock
	rent     Rent
}

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger. A nil clk uses wall time;
// tests pass clock.NewMock() to drive time-gated paths.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		accounts: make(map[Address]*Account),
		clock:    clk,
		rent:     DefaultRent(),
	}
}

// Execute implements Store.
func (s *MemoryStore) Execute(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:   s,
		touched: make(map[Address]*Account),
		deleted: make(map[Address]bool),
		now:     s.clock.Now(),
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit
	for addr := range tx.deleted {
		delete(s.accounts, addr)
	}
	for addr, acct := range tx.touched {
		s.accounts[addr] = acct
	}
	return nil
}

// View implements Store.
func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:   s,
		touched: make(map[Address]*Account),
		deleted: make(map[Address]bool),
		now:     s.clock.Now(),
	}
	return fn(tx)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Fund credits an account outside any operation, creating it if needed.
// Intended for deployment bootstrap and tests.
func (s *MemoryStore) Fund(addr Address, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[addr]
	if !ok {
		acct = &Account{Address: addr}
		s.accounts[addr] = acct
	}
	acct.Balance += amount
}

// memTx implements Tx over cloned accounts.
type memTx struct {
	store   *MemoryStore
	touched map[Address]*Account
	deleted map[Address]bool
	now     time.Time
}

func (t *memTx) Account(addr Address) (*Account, error) {
	if t.deleted[addr] {
		return nil, fmt.Errorf("account %s: %w", addr, ErrAccountNotFound)
	}
	if acct, ok := t.touched[addr]; ok {
		return acct, nil
	}
	acct, ok := t.store.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", addr, ErrAccountNotFound)
	}
	c := acct.Clone()
	t.touched[addr] = c
	return c, nil
}

func (t *memTx) CreateAccount(addr, owner, payer Address, space int, lamports uint64) (*Account, error) {
	if _, err := t.Account(addr); err == nil {
		return nil, fmt.Errorf("account %s: %w", addr, ErrAccountExists)
	}
	payerAcct, err := t.Account(payer)
	if err != nil {
		return nil, fmt.Errorf("create account payer: %w", err)
	}
	if payerAcct.Balance < lamports {
		return nil, fmt.Errorf("payer %s has %d, needs %d: %w",
			payer, payerAcct.Balance, lamports, ErrInsufficientFunds)
	}
	payerAcct.Balance -= lamports

	acct := &Account{
		Address: addr,
		Owner:   owner,
		Balance: lamports,
		Data:    make([]byte, space),
	}
	delete(t.deleted, addr)
	t.touched[addr] = acct
	return acct, nil
}

func (t *memTx) Transfer(from, to Address, amount uint64) error {
	fromAcct, err := t.Account(from)
	if err != nil {
		return fmt.Errorf("transfer source: %w", err)
	}
	if fromAcct.Balance < amount {
		return fmt.Errorf("account %s has %d, needs %d: %w",
			from, fromAcct.Balance, amount, ErrInsufficientFunds)
	}
	toAcct, err := t.Account(to)
	if err != nil {
		// Transfers may target fresh wallet addresses.
		toAcct = &Account{Address: to}
		delete(t.deleted, to)
		t.touched[to] = toAcct
	}
	fromAcct.Balance -= amount
	toAcct.Balance += amount
	return nil
}

func (t *memTx) SetData(addr Address, data []byte) error {
	acct, err := t.Account(addr)
	if err != nil {
		return err
	}
	acct.Data = append([]byte(nil), data...)
	return nil
}

func (t *memTx) CloseAccount(addr, recipient Address) error {
	acct, err := t.Account(addr)
	if err != nil {
		return err
	}
	if err := t.Transfer(addr, recipient, acct.Balance); err != nil {
		return err
	}
	delete(t.touched, addr)
	t.deleted[addr] = true
	return nil
}

func (t *memTx) Now() time.Time { return t.now }

func (t *memTx) Rent() Rent { return t.store.rent }
