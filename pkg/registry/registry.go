// Package registry is the program-registry collaborator invoked as a side
// effect of listing. The call carries a fixed account contract: the paying
// seller, the deployment's own program address, the fee recipient, and the
// registry's storage account. It shares the listing's atomic unit, so a
// failed registration aborts the whole listing.
package registry

import (
	"encoding/binary"
	"fmt"

	"validator_market/pkg/ledger"

	"go.uber.org/zap"
)

// ProgramID is the fixed address of the registry program.
var ProgramID = ledger.NamedAddress("program_registry")

// StorageSeed derives the registry's storage account.
const StorageSeed = "registry_storage"

// Registry records marketplace deployments.
type Registry interface {
	// Register appends program to the registry storage, charging the
	// registration fee from payer to the fee recipient.
	Register(tx ledger.Tx, payer, program, feeRecipient, storage ledger.Address) error
}

// LedgerRegistry implements Registry directly against the host ledger.
type LedgerRegistry struct {
	fee    uint64
	logger *zap.Logger
}

// Ensure LedgerRegistry implements the Registry interface
var _ Registry = (*LedgerRegistry)(nil)

// NewLedgerRegistry creates a registry client with the given registration fee.
func NewLedgerRegistry(fee uint64, logger *zap.Logger) *LedgerRegistry {
	return &LedgerRegistry{fee: fee, logger: logger}
}

// Register implements Registry. The storage layout is a u32 count followed by
// the registered program addresses.
func (r *LedgerRegistry) Register(tx ledger.Tx, payer, program, feeRecipient, storage ledger.Address) error {
	acct, err := tx.Account(storage)
	if err != nil {
		return fmt.Errorf("loading registry storage: %w", err)
	}
	if err := ledger.AssertOwner(acct, ProgramID); err != nil {
		return fmt.Errorf("registry storage must be owned by the registry program: %w", err)
	}

	if len(acct.Data) < 4 {
		return fmt.Errorf("registry storage malformed: %d bytes", len(acct.Data))
	}
	count := binary.LittleEndian.Uint32(acct.Data)

	data := make([]byte, len(acct.Data)+ledger.AddressLength)
	binary.LittleEndian.PutUint32(data, count+1)
	copy(data[4:], acct.Data[4:])
	copy(data[len(acct.Data):], program.Bytes())

	if r.fee > 0 {
		if err := tx.Transfer(payer, feeRecipient, r.fee); err != nil {
			return fmt.Errorf("registration fee: %w", err)
		}
	}
	if err := tx.SetData(storage, data); err != nil {
		return fmt.Errorf("recording registration: %w", err)
	}

	r.logger.Debug("Program registered",
		zap.String("program", program.String()),
		zap.Uint32("registrations", count+1))
	return nil
}

// InitStorage allocates an empty registry storage account. Deployment
// bootstrap and tests only.
func InitStorage(tx ledger.Tx, storage, payer ledger.Address) error {
	if _, err := tx.CreateAccount(storage, ProgramID, payer, 4,
		tx.Rent().MinimumBalance(4)); err != nil {
		return fmt.Errorf("creating registry storage: %w", err)
	}
	return nil
}
