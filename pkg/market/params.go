package market

import (
	"fmt"

	"validator_market/pkg/keys"
	"validator_market/pkg/ledger"
)

// Params are the deployment's injected protocol parameters: each deployment
// carries its own fee recipient, fee schedule and mediator set instead of
// compiling them in.
type Params struct {
	// Program is this deployment's own program address, the namespace for
	// every derived identity.
	Program ledger.Address

	// TeamAddress receives the team fee cut and mediation remainders.
	TeamAddress ledger.Address

	// TeamFeeBasisPoints of the price go to the team on purchase.
	TeamFeeBasisPoints uint64

	// EscrowBasisPoints of the price are held in escrow on purchase when
	// secondary items exist.
	EscrowBasisPoints uint64

	// Mediators is the allow-list of dispute arbiters.
	Mediators []ledger.Address

	// RegistryStorage is the registry collaborator's storage account.
	RegistryStorage ledger.Address
}

// Validate checks the parameter set at deployment time.
func (p Params) Validate() error {
	if p.Program.IsZero() {
		return fmt.Errorf("program address must be set: %w", ErrInvalidData)
	}
	if p.TeamAddress.IsZero() {
		return fmt.Errorf("team address must be set: %w", ErrInvalidData)
	}
	if p.TeamFeeBasisPoints+p.EscrowBasisPoints > 10_000 {
		return fmt.Errorf("fee basis points %d + %d exceed 10000: %w",
			p.TeamFeeBasisPoints, p.EscrowBasisPoints, ErrInvalidData)
	}
	if len(p.Mediators) == 0 {
		return fmt.Errorf("mediator allow-list must not be empty: %w", ErrInvalidData)
	}
	return nil
}

// IsMediator reports whether addr is on the allow-list.
func (p Params) IsMediator(addr ledger.Address) bool {
	for _, m := range p.Mediators {
		if m == addr {
			return true
		}
	}
	return false
}

// WithdrawerProxy is the derived identity holding withdrawal authority while
// listed.
func (p Params) WithdrawerProxy() ledger.Address {
	a, _ := keys.Derive(p.Program, []byte(SeedAuthorizedWithdrawer))
	return a
}

// UpgradeProxy is the derived identity holding the deployment's upgrade
// authority while listed.
func (p Params) UpgradeProxy() ledger.Address {
	a, _ := keys.Derive(p.Program, []byte(SeedUpgradeAuthority))
	return a
}

// StorageAddress is the fixed derived address of the listing record.
func (p Params) StorageAddress() ledger.Address {
	a, _ := keys.Derive(p.Program, []byte(SeedProgramStorage))
	return a
}

// EscrowAddress is the derived escrow vault.
func (p Params) EscrowAddress() ledger.Address {
	a, _ := keys.Derive(p.Program, []byte(SeedEscrowAccount))
	return a
}
