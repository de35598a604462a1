package market

import (
	"context"
	"testing"
	"time"

	"validator_market/pkg/ledger"
	"validator_market/pkg/loader"
	"validator_market/pkg/registry"
	"validator_market/pkg/vote"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testCost        = uint64(10_000_000)
	testRegistryFee = uint64(1_000)
	initialFunds    = uint64(1_000_000_000_000)
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	clk   *clock.Mock
	store *ledger.MemoryStore
	proc  *Processor

	program         ledger.Address
	seller          ledger.Address
	buyer           ledger.Address
	team            ledger.Address
	mediator        ledger.Address
	node            ledger.Address
	voteAddr        ledger.Address
	registryStorage ledger.Address
}

func newFixture(t *testing.T) *fixture {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))

	f := &fixture{
		t:               t,
		ctx:             context.Background(),
		clk:             clk,
		store:           ledger.NewMemoryStore(clk),
		program:         ledger.NamedAddress("test_deployment"),
		seller:          ledger.NamedAddress("test_seller"),
		buyer:           ledger.NamedAddress("test_buyer"),
		team:            ledger.NamedAddress("test_team"),
		mediator:        ledger.NamedAddress("test_mediator"),
		node:            ledger.NamedAddress("test_node"),
		voteAddr:        ledger.NamedAddress("test_vote_account"),
		registryStorage: ledger.NamedAddress("test_registry_storage"),
	}

	logger := zaptest.NewLogger(t)
	params := Params{
		Program:            f.program,
		TeamAddress:        f.team,
		TeamFeeBasisPoints: 200,
		EscrowBasisPoints:  1000,
		Mediators:          []ledger.Address{f.mediator},
		RegistryStorage:    f.registryStorage,
	}
	reg := registry.NewLedgerRegistry(testRegistryFee, logger)
	proc, err := NewProcessor(f.store, params, reg, logger)
	require.NoError(t, err)
	f.proc = proc

	f.store.Fund(f.seller, initialFunds)
	f.store.Fund(f.buyer, initialFunds)

	err = f.store.Execute(f.ctx, func(tx ledger.Tx) error {
		state := &vote.State{
			NodePubkey:           f.node,
			AuthorizedWithdrawer: f.seller,
			Commission:           10,
		}
		if err := vote.CreateAccount(tx, f.voteAddr, f.seller, state, vote.MinimumBalance(tx.Rent())); err != nil {
			return err
		}
		if err := loader.CreateProgram(tx, f.program, f.seller, f.seller); err != nil {
			return err
		}
		return registry.InitStorage(tx, f.registryStorage, f.seller)
	})
	require.NoError(t, err)

	return f
}

func (f *fixture) params() Params { return f.proc.Params() }

func signer(addr ledger.Address) ledger.AccountMeta {
	return ledger.AccountMeta{Address: addr, IsSigner: true}
}

func account(addr ledger.Address) ledger.AccountMeta {
	return ledger.AccountMeta{Address: addr}
}

func (f *fixture) now() uint32 {
	return uint32(f.clk.Now().Unix())
}

func (f *fixture) listAccounts() []ledger.AccountMeta {
	return []ledger.AccountMeta{
		signer(f.seller),
		account(f.voteAddr),
		account(f.params().WithdrawerProxy()),
		account(f.params().StorageAddress()),
		account(f.program),
		account(loader.ProgramDataAddress(f.program)),
		signer(f.seller),
		account(f.params().UpgradeProxy()),
		account(f.team),
		account(f.registryStorage),
	}
}

func (f *fixture) list(cost uint64, items []SecondaryItem) error {
	op := &ListOp{
		LogLevel:         5,
		Cost:             cost,
		MediatableDate:   f.now() + 7*86400,
		SecondaryItems:   items,
		Description:      "well provisioned validator, hardware included",
		ValidatorName:    "validator-one",
		ValidatorLogoURL: "https://example.com/logo.png",
	}
	return f.proc.Process(f.ctx, op, f.listAccounts())
}

func (f *fixture) buy() error {
	return f.proc.Process(f.ctx, &BuyOp{LogLevel: 5}, []ledger.AccountMeta{
		signer(f.buyer),
		account(f.params().StorageAddress()),
		account(f.seller),
		account(f.voteAddr),
		account(f.params().WithdrawerProxy()),
		account(f.params().EscrowAddress()),
		account(f.team),
	})
}

func (f *fixture) validateItem(index uint32) error {
	return f.proc.Process(f.ctx, &ValidateSecondaryItemsTransfersOp{LogLevel: 5, ItemIndex: index},
		[]ledger.AccountMeta{
			signer(f.buyer),
			account(f.params().StorageAddress()),
			account(f.params().EscrowAddress()),
			account(f.seller),
		})
}

func (f *fixture) requestMediation(requester ledger.Address) error {
	return f.proc.Process(f.ctx, &RequestMediationOp{LogLevel: 5}, []ledger.AccountMeta{
		signer(requester),
		account(f.params().StorageAddress()),
	})
}

func (f *fixture) mediate(mediator ledger.Address, shares MediationShares) error {
	return f.proc.Process(f.ctx, &MediateOp{LogLevel: 5, Shares: shares}, []ledger.AccountMeta{
		signer(mediator),
		account(f.seller),
		account(f.params().StorageAddress()),
		account(f.buyer),
		account(f.params().EscrowAddress()),
		account(f.team),
	})
}

func (f *fixture) delist() error {
	return f.proc.Process(f.ctx, &DelistOp{LogLevel: 5}, []ledger.AccountMeta{
		signer(f.seller),
		account(f.voteAddr),
		account(f.params().WithdrawerProxy()),
		account(f.params().StorageAddress()),
		account(f.program),
		account(loader.ProgramDataAddress(f.program)),
		account(f.params().UpgradeProxy()),
	})
}

func (f *fixture) withdrawRewards() error {
	return f.proc.Process(f.ctx, &WithdrawRewardsOp{LogLevel: 5}, []ledger.AccountMeta{
		account(f.seller),
		account(f.voteAddr),
		account(f.params().WithdrawerProxy()),
		account(f.params().StorageAddress()),
	})
}

func (f *fixture) balance(addr ledger.Address) uint64 {
	bal, err := ledger.Balance(f.ctx, f.store, addr)
	if err != nil {
		return 0
	}
	return bal
}

func (f *fixture) storage() *Storage {
	var record *Storage
	err := f.store.View(f.ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(f.params().StorageAddress())
		if err != nil {
			return err
		}
		record, err = DecodeStorage(acct.Data)
		return err
	})
	require.NoError(f.t, err)
	return record
}

func (f *fixture) voteState() *vote.State {
	var state *vote.State
	err := f.store.View(f.ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(f.voteAddr)
		if err != nil {
			return err
		}
		state, err = vote.DecodeState(acct.Data)
		return err
	})
	require.NoError(f.t, err)
	return state
}

func testItems() []SecondaryItem {
	return []SecondaryItem{
		{Cost: 2_000_000, Name: "server", Description: "dedicated machine in a berlin rack"},
		{Cost: 500_000, Name: "ansible playbooks", Description: "deployment automation"},
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.list(testCost, testItems()))

	record := f.storage()
	assert.Equal(t, PhaseUnsold, record.Phase())
	assert.Equal(t, f.seller, record.AuthorizedWithdrawer)
	assert.Equal(t, f.voteAddr, record.VoteAccount)
	assert.Equal(t, testCost, record.Cost)
	assert.Len(t, record.SecondaryItems, 2)
	assert.Equal(t, "validator-one", record.ValidatorName)

	// Both authorities now belong to the proxy identities.
	assert.Equal(t, f.params().WithdrawerProxy(), f.voteState().AuthorizedWithdrawer)
	err := f.store.View(f.ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(loader.ProgramDataAddress(f.program))
		if err != nil {
			return err
		}
		authority, err := loader.UpgradeAuthority(acct)
		if err != nil {
			return err
		}
		assert.Equal(t, f.params().UpgradeProxy(), authority)
		return nil
	})
	require.NoError(t, err)

	// Registration landed in the same atomic unit.
	assert.Equal(t, testRegistryFee, f.balance(f.team))
}

func TestListRejectsEmptyName(t *testing.T) {
	f := newFixture(t)

	op := &ListOp{
		LogLevel:       5,
		Cost:           testCost,
		MediatableDate: f.now() + 86400,
		Description:    "desc",
	}
	err := f.proc.Process(f.ctx, op, f.listAccounts())
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestListRejectsWindowBeyondThirtyDays(t *testing.T) {
	f := newFixture(t)

	op := &ListOp{
		LogLevel:       5,
		Cost:           testCost,
		MediatableDate: f.now() + 31*86400,
		ValidatorName:  "validator-one",
	}
	err := f.proc.Process(f.ctx, op, f.listAccounts())
	assert.ErrorIs(t, err, ErrTooLate)
}

func TestListRejectsWrongAuthority(t *testing.T) {
	f := newFixture(t)

	accounts := f.listAccounts()
	accounts[0] = signer(f.buyer) // not the vote account's withdrawer
	op := &ListOp{
		LogLevel:       5,
		Cost:           testCost,
		MediatableDate: f.now() + 86400,
		ValidatorName:  "validator-one",
	}
	err := f.proc.Process(f.ctx, op, accounts)
	assert.ErrorIs(t, err, ledger.ErrAddressMismatch)

	// Nothing landed: no storage record, authority unchanged.
	err = f.store.View(f.ctx, func(tx ledger.Tx) error {
		_, err := tx.Account(f.params().StorageAddress())
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, f.seller, f.voteState().AuthorizedWithdrawer)
}

func TestBuyWithSecondaryItems(t *testing.T) {
	f := newFixture(t)
	items := testItems()
	require.NoError(t, f.list(testCost, items))

	sellerBefore := f.balance(f.seller)
	teamBefore := f.balance(f.team)
	buyerBefore := f.balance(f.buyer)

	require.NoError(t, f.buy())

	itemsCost := items[0].Cost + items[1].Cost
	escrowCut := testCost * 1000 / 10000
	teamCut := testCost * 200 / 10000
	ownerCut := testCost * (10000 - 1000 - 200) / 10000
	wantEscrow := escrowCut + 2*itemsCost

	// Split reassembles the price modulo rounding loss of at most 2 units.
	assert.LessOrEqual(t, testCost-(ownerCut+escrowCut+teamCut), uint64(2))

	assert.Equal(t, sellerBefore+ownerCut, f.balance(f.seller))
	assert.Equal(t, teamBefore+teamCut, f.balance(f.team))
	assert.Equal(t, wantEscrow, f.balance(f.params().EscrowAddress()))
	assert.Equal(t, buyerBefore-ownerCut-wantEscrow-teamCut, f.balance(f.buyer))

	record := f.storage()
	require.NotNil(t, record.Purchase)
	assert.Equal(t, f.buyer, record.Purchase.Buyer)
	assert.Nil(t, record.Purchase.DateFinalized)
	assert.Equal(t, PhaseSoldPending, record.Phase())

	// Withdrawal authority moved to the buyer.
	assert.Equal(t, f.buyer, f.voteState().AuthorizedWithdrawer)
}

func TestBuyWithoutSecondaryItemsFinalizesImmediately(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, nil))

	require.NoError(t, f.buy())

	record := f.storage()
	require.NotNil(t, record.Purchase)
	assert.NotNil(t, record.Purchase.DateFinalized)
	assert.Equal(t, PhaseSettled, record.Phase())

	// No escrow carve-out without items.
	assert.Zero(t, f.balance(f.params().EscrowAddress()))
}

func TestBuyTwiceFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())

	err := f.buy()
	assert.ErrorIs(t, err, ErrTooLate)
}

func TestWithdrawRewards(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, nil))

	const rewards = uint64(500_000)
	f.store.Fund(f.voteAddr, rewards)

	sellerBefore := f.balance(f.seller)
	require.NoError(t, f.withdrawRewards())
	assert.Equal(t, sellerBefore+rewards, f.balance(f.seller))

	// The reserve stays behind; a second sweep has nothing left to move.
	require.NoError(t, f.withdrawRewards())
	assert.Equal(t, sellerBefore+rewards, f.balance(f.seller))
}

func TestWithdrawRewardsRejectsForeignVoteAccount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, nil))

	other := ledger.NamedAddress("other_vote_account")
	err := f.store.Execute(f.ctx, func(tx ledger.Tx) error {
		state := &vote.State{NodePubkey: f.node, AuthorizedWithdrawer: f.seller}
		return vote.CreateAccount(tx, other, f.seller, state, vote.MinimumBalance(tx.Rent())+100)
	})
	require.NoError(t, err)

	err = f.proc.Process(f.ctx, &WithdrawRewardsOp{LogLevel: 5}, []ledger.AccountMeta{
		account(f.seller),
		account(other),
		account(f.params().WithdrawerProxy()),
		account(f.params().StorageAddress()),
	})
	assert.ErrorIs(t, err, ledger.ErrAddressMismatch)
}

func TestDelistUnsold(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))

	storageBalance := f.balance(f.params().StorageAddress())
	require.NotZero(t, storageBalance)
	sellerBefore := f.balance(f.seller)

	require.NoError(t, f.delist())

	// Record destroyed, rent-exempt balance returned.
	err := f.store.View(f.ctx, func(tx ledger.Tx) error {
		_, err := tx.Account(f.params().StorageAddress())
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, sellerBefore+storageBalance, f.balance(f.seller))

	// Authorities returned to the seller.
	assert.Equal(t, f.seller, f.voteState().AuthorizedWithdrawer)
}

func TestDelistBlockedByPendingItems(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())
	require.NoError(t, f.validateItem(0))

	err := f.delist()
	assert.ErrorIs(t, err, ErrTooEarly)

	require.NoError(t, f.validateItem(1))
	require.NoError(t, f.delist())
}

func TestDelistRequiresSellerSignature(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, nil))

	err := f.proc.Process(f.ctx, &DelistOp{LogLevel: 5}, []ledger.AccountMeta{
		account(f.seller), // no signature
		account(f.voteAddr),
		account(f.params().WithdrawerProxy()),
		account(f.params().StorageAddress()),
		account(f.program),
		account(loader.ProgramDataAddress(f.program)),
		account(f.params().UpgradeProxy()),
	})
	assert.ErrorIs(t, err, ledger.ErrMissingRequiredSignature)
}

func TestRelistAfterDelist(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, nil))
	require.NoError(t, f.delist())
	require.NoError(t, f.list(testCost*2, nil))

	assert.Equal(t, testCost*2, f.storage().Cost)
}
