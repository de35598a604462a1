package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const accountsSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    address    BYTEA PRIMARY KEY,
    owner      BYTEA NOT NULL,
    balance    BIGINT NOT NULL CHECK (balance >= 0),
    data       BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements Store using PostgreSQL. Every operation runs inside
// one database transaction with SELECT ... FOR UPDATE row locks on touched
// accounts, which serializes concurrent operations against the same records.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	rent   Rent
}

// Ensure PostgresStore implements the Store interface
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database, verifies the connection and
// initializes the accounts schema.
func NewPostgresStore(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, accountsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger,
		rent:   DefaultRent(),
	}, nil
}

// Execute implements Store.
func (s *PostgresStore) Execute(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	pt := &pgTx{ctx: ctx, tx: dbTx, rent: s.rent, now: time.Now().UTC(), forUpdate: true}
	if err := fn(pt); err != nil {
		return err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// View implements Store.
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	return fn(&pgTx{ctx: ctx, tx: dbTx, rent: s.rent, now: time.Now().UTC()})
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Fund credits an account outside any operation, creating it if needed.
func (s *PostgresStore) Fund(ctx context.Context, addr Address, amount uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (address, owner, balance, data)
		VALUES ($1, $2, $3, '')
		ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + $3`,
		addr.Bytes(), Address{}.Bytes(), int64(amount))
	if err != nil {
		return fmt.Errorf("funding account: %w", err)
	}
	return nil
}

// pgTx implements Tx over one pgx transaction.
type pgTx struct {
	ctx       context.Context
	tx        pgx.Tx
	rent      Rent
	now       time.Time
	forUpdate bool
}

func (t *pgTx) Account(addr Address) (*Account, error) {
	query := `SELECT owner, balance, data FROM accounts WHERE address = $1`
	if t.forUpdate {
		query += ` FOR UPDATE`
	}

	var owner, data []byte
	var balance int64
	err := t.tx.QueryRow(t.ctx, query, addr.Bytes()).Scan(&owner, &balance, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", addr, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", addr, err)
	}

	acct := &Account{Address: addr, Balance: uint64(balance), Data: data}
	copy(acct.Owner[:], owner)
	return acct, nil
}

func (t *pgTx) CreateAccount(addr, owner, payer Address, space int, lamports uint64) (*Account, error) {
	if _, err := t.Account(addr); err == nil {
		return nil, fmt.Errorf("account %s: %w", addr, ErrAccountExists)
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	if err := t.debit(payer, lamports); err != nil {
		return nil, fmt.Errorf("create account payer: %w", err)
	}

	acct := &Account{
		Address: addr,
		Owner:   owner,
		Balance: lamports,
		Data:    make([]byte, space),
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO accounts (address, owner, balance, data)
		VALUES ($1, $2, $3, $4)`,
		addr.Bytes(), owner.Bytes(), int64(lamports), acct.Data)
	if err != nil {
		return nil, fmt.Errorf("creating account %s: %w", addr, err)
	}
	return acct, nil
}

func (t *pgTx) Transfer(from, to Address, amount uint64) error {
	if err := t.debit(from, amount); err != nil {
		return fmt.Errorf("transfer source: %w", err)
	}
	// Transfers may target fresh wallet addresses.
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO accounts (address, owner, balance, data)
		VALUES ($1, $2, $3, '')
		ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + $3, updated_at = now()`,
		to.Bytes(), Address{}.Bytes(), int64(amount))
	if err != nil {
		return fmt.Errorf("transfer destination: %w", err)
	}
	return nil
}

func (t *pgTx) SetData(addr Address, data []byte) error {
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE accounts SET data = $2, updated_at = now() WHERE address = $1`,
		addr.Bytes(), data)
	if err != nil {
		return fmt.Errorf("setting data for %s: %w", addr, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", addr, ErrAccountNotFound)
	}
	return nil
}

func (t *pgTx) CloseAccount(addr, recipient Address) error {
	acct, err := t.Account(addr)
	if err != nil {
		return err
	}
	if err := t.Transfer(addr, recipient, acct.Balance); err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM accounts WHERE address = $1`, addr.Bytes()); err != nil {
		return fmt.Errorf("closing account %s: %w", addr, err)
	}
	return nil
}

func (t *pgTx) Now() time.Time { return t.now }

func (t *pgTx) Rent() Rent { return t.rent }

func (t *pgTx) debit(addr Address, amount uint64) error {
	acct, err := t.Account(addr)
	if err != nil {
		return err
	}
	if acct.Balance < amount {
		return fmt.Errorf("account %s has %d, needs %d: %w",
			addr, acct.Balance, amount, ErrInsufficientFunds)
	}
	_, err = t.tx.Exec(t.ctx, `
		UPDATE accounts SET balance = balance - $2, updated_at = now() WHERE address = $1`,
		addr.Bytes(), int64(amount))
	if err != nil {
		return fmt.Errorf("debiting account %s: %w", addr, err)
	}
	return nil
}
