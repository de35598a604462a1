package loader

import (
	"context"
	"testing"

	"validator_market/pkg/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramDataRoundTrip(t *testing.T) {
	authority := ledger.NamedAddress("loader_authority")
	pd := &ProgramData{Slot: 9000, UpgradeAuthority: &authority}

	decoded, err := DecodeProgramData(pd.Encode())
	require.NoError(t, err)
	assert.Equal(t, pd, decoded)

	frozen := &ProgramData{Slot: 1}
	decoded, err = DecodeProgramData(frozen.Encode())
	require.NoError(t, err)
	assert.Nil(t, decoded.UpgradeAuthority)
}

func TestDecodeProgramDataRejectsWrongTag(t *testing.T) {
	data := (&ProgramData{}).Encode()
	data[0] = 9

	_, err := DecodeProgramData(data)
	assert.Error(t, err)
}

func TestSetUpgradeAuthority(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore(nil)
	program := ledger.NamedAddress("loader_program")
	owner := ledger.NamedAddress("loader_owner")
	next := ledger.NamedAddress("loader_next")
	store.Fund(owner, 1_000_000_000)

	err := store.Execute(ctx, func(tx ledger.Tx) error {
		return CreateProgram(tx, program, owner, owner)
	})
	require.NoError(t, err)

	dataAddr := ProgramDataAddress(program)
	err = store.Execute(ctx, func(tx ledger.Tx) error {
		return SetUpgradeAuthority(tx, dataAddr, owner, &next)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(dataAddr)
		if err != nil {
			return err
		}
		authority, err := UpgradeAuthority(acct)
		if err != nil {
			return err
		}
		assert.Equal(t, next, authority)
		return nil
	})
	require.NoError(t, err)

	// The previous holder lost its rights.
	err = store.Execute(ctx, func(tx ledger.Tx) error {
		return SetUpgradeAuthority(tx, dataAddr, owner, &owner)
	})
	assert.ErrorIs(t, err, ledger.ErrAddressMismatch)
}

func TestFrozenProgramHasNoAuthority(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore(nil)
	program := ledger.NamedAddress("loader_frozen")
	owner := ledger.NamedAddress("loader_owner")
	store.Fund(owner, 1_000_000_000)

	err := store.Execute(ctx, func(tx ledger.Tx) error {
		if err := CreateProgram(tx, program, owner, owner); err != nil {
			return err
		}
		return SetUpgradeAuthority(tx, ProgramDataAddress(program), owner, nil)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(ProgramDataAddress(program))
		if err != nil {
			return err
		}
		_, err = UpgradeAuthority(acct)
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}
