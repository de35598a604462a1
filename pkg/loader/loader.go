// Package loader models the upgradeable program loader: the external program
// that owns deployed program accounts and records who may upgrade them. The
// marketplace retargets that upgrade authority at listing and delisting time.
package loader

import (
	"encoding/binary"
	"fmt"

	"validator_market/pkg/keys"
	"validator_market/pkg/ledger"
)

// ProgramID is the fixed address of the loader.
var ProgramID = ledger.NamedAddress("upgradeable_loader")

// Account state tags, mirroring the loader's on-ledger representation.
const (
	tagProgram     = 2
	tagProgramData = 3
)

// Program account layout: u32 tag + program-data address.
const programSize = 4 + ledger.AddressLength

// ProgramData layout: u32 tag + u64 slot + u8 option + authority address.
// The authority therefore sits at bytes 13..45.
const (
	programDataSize      = 4 + 8 + 1 + ledger.AddressLength
	authorityOptionIndex = 12
	authorityOffset      = 13
)

// ProgramDataAddress is the derived address of a program's data account.
func ProgramDataAddress(program ledger.Address) ledger.Address {
	addr, _ := keys.Derive(ProgramID, program.Bytes())
	return addr
}

// ProgramData holds the loader's record for one deployed program.
type ProgramData struct {
	Slot             uint64
	UpgradeAuthority *ledger.Address
}

// Encode serializes the program-data record.
func (p *ProgramData) Encode() []byte {
	buf := make([]byte, programDataSize)
	binary.LittleEndian.PutUint32(buf[0:], tagProgramData)
	binary.LittleEndian.PutUint64(buf[4:], p.Slot)
	if p.UpgradeAuthority != nil {
		buf[authorityOptionIndex] = 1
		copy(buf[authorityOffset:], p.UpgradeAuthority.Bytes())
	}
	return buf
}

// DecodeProgramData parses a program-data account's data.
func DecodeProgramData(data []byte) (*ProgramData, error) {
	if len(data) < programDataSize {
		return nil, fmt.Errorf("program data too short: %d bytes", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:]) != tagProgramData {
		return nil, fmt.Errorf("account is not a program-data record")
	}
	p := &ProgramData{Slot: binary.LittleEndian.Uint64(data[4:])}
	if data[authorityOptionIndex] == 1 {
		var a ledger.Address
		copy(a[:], data[authorityOffset:authorityOffset+ledger.AddressLength])
		p.UpgradeAuthority = &a
	}
	return p, nil
}

// UpgradeAuthority reads the current upgrade authority from a program-data
// account, failing if the program is frozen (no authority).
func UpgradeAuthority(acct *ledger.Account) (ledger.Address, error) {
	pd, err := DecodeProgramData(acct.Data)
	if err != nil {
		return ledger.Address{}, err
	}
	if pd.UpgradeAuthority == nil {
		return ledger.Address{}, fmt.Errorf("program is frozen: no upgrade authority")
	}
	return *pd.UpgradeAuthority, nil
}

// SetUpgradeAuthority rewrites the upgrade authority of the program-data
// account from current to next. The caller verifies current's signature or
// derived-identity proof; this function enforces that current is recorded.
func SetUpgradeAuthority(tx ledger.Tx, programDataAddr, current ledger.Address, next *ledger.Address) error {
	acct, err := tx.Account(programDataAddr)
	if err != nil {
		return fmt.Errorf("loading program data: %w", err)
	}
	if err := ledger.AssertOwner(acct, ProgramID); err != nil {
		return fmt.Errorf("program data must be owned by the loader: %w", err)
	}
	recorded, err := UpgradeAuthority(acct)
	if err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(current, recorded); err != nil {
		return fmt.Errorf("caller does not hold the upgrade authority: %w", err)
	}

	pd, err := DecodeProgramData(acct.Data)
	if err != nil {
		return err
	}
	pd.UpgradeAuthority = next
	return tx.SetData(programDataAddr, pd.Encode())
}

// CreateProgram allocates a program account and its program-data account with
// the given upgrade authority. Deployment bootstrap and tests only.
func CreateProgram(tx ledger.Tx, program, payer, authority ledger.Address) error {
	dataAddr := ProgramDataAddress(program)

	progBuf := make([]byte, programSize)
	binary.LittleEndian.PutUint32(progBuf[0:], tagProgram)
	copy(progBuf[4:], dataAddr.Bytes())

	if _, err := tx.CreateAccount(program, ProgramID, payer, programSize,
		tx.Rent().MinimumBalance(programSize)); err != nil {
		return fmt.Errorf("creating program account: %w", err)
	}
	if err := tx.SetData(program, progBuf); err != nil {
		return err
	}

	pd := &ProgramData{UpgradeAuthority: &authority}
	if _, err := tx.CreateAccount(dataAddr, ProgramID, payer, programDataSize,
		tx.Rent().MinimumBalance(programDataSize)); err != nil {
		return fmt.Errorf("creating program data account: %w", err)
	}
	return tx.SetData(dataAddr, pd.Encode())
}
