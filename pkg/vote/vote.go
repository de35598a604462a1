// Package vote models the external vote program that owns validator accounts.
// The marketplace only retargets the withdrawal authority of an existing vote
// account and sweeps its rewards; creating or voting with the account is out
// of scope.
package vote

import (
	"fmt"

	"validator_market/pkg/ledger"
)

// ProgramID is the fixed address of the vote program.
var ProgramID = ledger.NamedAddress("vote_program")

// Space is the fixed allocation of a vote account.
const Space = 3731

// stateSize is the encoded prefix of State inside the account data.
const stateSize = ledger.AddressLength*2 + 1

// State is the decoded prefix of a vote account: the fields the marketplace
// needs. The remainder of the account data is opaque here.
type State struct {
	NodePubkey           ledger.Address
	AuthorizedWithdrawer ledger.Address
	Commission           uint8
}

// Encode writes the state into a fresh Space-sized buffer.
func (s *State) Encode() []byte {
	buf := make([]byte, Space)
	copy(buf[0:], s.NodePubkey.Bytes())
	copy(buf[ledger.AddressLength:], s.AuthorizedWithdrawer.Bytes())
	buf[2*ledger.AddressLength] = s.Commission
	return buf
}

// DecodeState parses the prefix of a vote account's data.
func DecodeState(data []byte) (*State, error) {
	if len(data) < stateSize {
		return nil, fmt.Errorf("vote account data too short: %d bytes", len(data))
	}
	s := &State{Commission: data[2*ledger.AddressLength]}
	copy(s.NodePubkey[:], data[:ledger.AddressLength])
	copy(s.AuthorizedWithdrawer[:], data[ledger.AddressLength:2*ledger.AddressLength])
	return s, nil
}

// MinimumBalance is the reserve a vote account must keep; rewards above it
// may be withdrawn.
func MinimumBalance(r ledger.Rent) uint64 {
	return r.MinimumBalance(Space)
}

// Authorize reassigns the withdrawal authority of the vote account from
// current to next. The caller is responsible for having verified current's
// signature (or derived-identity proof); this function enforces that current
// actually holds the authority.
func Authorize(tx ledger.Tx, voteAddr, current, next ledger.Address) error {
	acct, err := tx.Account(voteAddr)
	if err != nil {
		return fmt.Errorf("loading vote account: %w", err)
	}
	if err := ledger.AssertOwner(acct, ProgramID); err != nil {
		return fmt.Errorf("vote account must be owned by the vote program: %w", err)
	}
	state, err := DecodeState(acct.Data)
	if err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(current, state.AuthorizedWithdrawer); err != nil {
		return fmt.Errorf("current authority does not hold withdrawal rights: %w", err)
	}

	state.AuthorizedWithdrawer = next
	data := state.Encode()
	copy(data[stateSize:], acct.Data[stateSize:])
	return tx.SetData(voteAddr, data)
}

// Withdraw moves amount from the vote account to recipient, authorized by
// withdrawer. The balance left behind must cover the minimum reserve.
func Withdraw(tx ledger.Tx, voteAddr, withdrawer, recipient ledger.Address, amount uint64) error {
	acct, err := tx.Account(voteAddr)
	if err != nil {
		return fmt.Errorf("loading vote account: %w", err)
	}
	if err := ledger.AssertOwner(acct, ProgramID); err != nil {
		return fmt.Errorf("vote account must be owned by the vote program: %w", err)
	}
	state, err := DecodeState(acct.Data)
	if err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(withdrawer, state.AuthorizedWithdrawer); err != nil {
		return fmt.Errorf("withdraw not authorized: %w", err)
	}
	if amount > acct.Balance || acct.Balance-amount < MinimumBalance(tx.Rent()) {
		return fmt.Errorf("withdrawal of %d would break the minimum reserve: %w",
			amount, ledger.ErrInsufficientFunds)
	}
	return tx.Transfer(voteAddr, recipient, amount)
}

// CreateAccount allocates and initializes a vote account. Used by deployment
// bootstrap and tests; live validators bring their own.
func CreateAccount(tx ledger.Tx, addr, payer ledger.Address, state *State, lamports uint64) error {
	if _, err := tx.CreateAccount(addr, ProgramID, payer, Space, lamports); err != nil {
		return fmt.Errorf("creating vote account: %w", err)
	}
	return tx.SetData(addr, state.Encode())
}
