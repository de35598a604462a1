package ledger

import (
	"context"
	"time"
)

// Tx is the transactional view an operation executes against. Every mutation
// made through a Tx lands atomically when the enclosing Execute returns nil,
// and is discarded entirely when it returns an error.
type Tx interface {
	// Account fetches an account for reading and writing. The account is
	// locked for the remainder of the transaction.
	Account(addr Address) (*Account, error)

	// CreateAccount allocates a new account with the given owner and space,
	// funding it with lamports drawn from payer.
	CreateAccount(addr, owner, payer Address, space int, lamports uint64) (*Account, error)

	// Transfer moves native units between two accounts.
	Transfer(from, to Address, amount uint64) error

	// SetData replaces an account's data.
	SetData(addr Address, data []byte) error

	// CloseAccount moves the account's entire balance to recipient and
	// destroys the record (all space zeroed and released).
	CloseAccount(addr, recipient Address) error

	// Now is the ledger clock at transaction start.
	Now() time.Time

	// Rent returns the rent parameters in force.
	Rent() Rent
}

// Store is the host ledger: it admits one atomic unit of execution at a time
// per account set, mirroring the runtime account-locking discipline the
// protocol relies on instead of an explicit lock primitive.
type Store interface {
	// Execute runs fn inside one atomic unit. fn returning an error rolls
	// back every mutation made through the Tx.
	Execute(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn read-only against current state.
	View(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Balance is a convenience read of a single account's balance.
func Balance(ctx context.Context, s Store, addr Address) (uint64, error) {
	var out uint64
	err := s.View(ctx, func(tx Tx) error {
		acct, err := tx.Account(addr)
		if err != nil {
			return err
		}
		out = acct.Balance
		return nil
	})
	return out, err
}
