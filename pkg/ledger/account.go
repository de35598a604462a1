package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Error variables for consistent error handling across stores and programs
var (
	ErrAccountNotFound          = errors.New("account not found")
	ErrAccountExists            = errors.New("account already exists")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAddressMismatch          = errors.New("address mismatch")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrBeyondBounds             = errors.New("arithmetic beyond bounds")
)

// AddressLength is the byte length of a ledger address.
const AddressLength = 32

// Address identifies an account on the ledger.
type Address [AddressLength]byte

// String returns the hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a hex encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parsing address: %w", err)
	}
	if len(b) != AddressLength {
		return a, fmt.Errorf("parsing address: expected %d bytes, got %d", AddressLength, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// MustParseAddress is ParseAddress that panics on malformed input. For use in
// tests and configuration defaults only.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// NamedAddress derives a well-known address from a stable name. Used for the
// fixed identities of the host programs (vote program, loader, registry).
func NamedAddress(name string) Address {
	return Address(sha256.Sum256([]byte(name)))
}

// Account is one persisted ledger record: a balance in native units plus raw
// data owned by a program.
type Account struct {
	Address Address
	Owner   Address
	Balance uint64
	Data    []byte
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// AccountMeta is one positional entry of an operation's account list: the
// address plus whether the submitter proved a signature for it.
type AccountMeta struct {
	Address  Address `json:"address"`
	IsSigner bool    `json:"signer"`
}
