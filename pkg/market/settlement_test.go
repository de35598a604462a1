package market

import (
	"testing"
	"time"

	"validator_market/pkg/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateItemsReleasesEscrow(t *testing.T) {
	f := newFixture(t)
	items := testItems()
	require.NoError(t, f.list(testCost, items))
	require.NoError(t, f.buy())

	itemsCost := items[0].Cost + items[1].Cost
	escrowCut := testCost * 1000 / 10000
	require.Equal(t, escrowCut+2*itemsCost, f.balance(f.params().EscrowAddress()))

	buyerBefore := f.balance(f.buyer)
	sellerBefore := f.balance(f.seller)

	// First acknowledgement holds funds in place.
	require.NoError(t, f.validateItem(0))
	assert.Equal(t, buyerBefore, f.balance(f.buyer))
	assert.Equal(t, PhaseSoldPending, f.storage().Phase())

	// Last acknowledgement drains escrow: item costs back to the buyer,
	// remainder (deposit plus carve-out) to the seller.
	require.NoError(t, f.validateItem(1))
	assert.Equal(t, buyerBefore+itemsCost, f.balance(f.buyer))
	assert.Equal(t, sellerBefore+itemsCost+escrowCut, f.balance(f.seller))
	assert.Zero(t, f.balance(f.params().EscrowAddress()))

	record := f.storage()
	assert.Equal(t, PhaseSettled, record.Phase())
	for _, item := range record.SecondaryItems {
		assert.NotNil(t, item.DateValidated)
	}
}

func TestValidateItemTwiceFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())
	require.NoError(t, f.validateItem(0))

	assert.ErrorIs(t, f.validateItem(0), ErrTooLate)
}

func TestValidateItemIndexOutOfRange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())

	assert.ErrorIs(t, f.validateItem(7), ErrInvalidData)
}

func TestValidateItemRequiresBuyer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())

	err := f.proc.Process(f.ctx, &ValidateSecondaryItemsTransfersOp{LogLevel: 5, ItemIndex: 0},
		[]ledger.AccountMeta{
			signer(f.seller), // not the recorded buyer
			account(f.params().StorageAddress()),
			account(f.params().EscrowAddress()),
			account(f.seller),
		})
	assert.ErrorIs(t, err, ledger.ErrAddressMismatch)
}

func TestValidateItemBeforePurchaseFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))

	assert.ErrorIs(t, f.validateItem(0), ErrOptionUnwrap)
}

func TestRequestMediation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())

	// The window opens seven days after listing.
	assert.ErrorIs(t, f.requestMediation(f.buyer), ErrTooEarly)

	f.clk.Add(8 * 24 * time.Hour)
	require.NoError(t, f.requestMediation(f.buyer))
	assert.NotNil(t, f.storage().RequestMediationDate)

	// Only once.
	assert.ErrorIs(t, f.requestMediation(f.seller), ErrTooLate)
}

func TestRequestMediationRequiresParty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())
	f.clk.Add(8 * 24 * time.Hour)

	stranger := ledger.NamedAddress("test_stranger")
	assert.ErrorIs(t, f.requestMediation(stranger), ErrNotAuthorized)

	require.NoError(t, f.requestMediation(f.seller))
}

func TestMediateSplitsEscrow(t *testing.T) {
	f := newFixture(t)

	// Price 10 with a 10% carve-out yields escrow cut 1; items 20+30 add a
	// doubled hold of 100, so escrow sits at 101 when mediation starts.
	items := []SecondaryItem{
		{Cost: 20, Name: "rack rails", Description: "mounting hardware"},
		{Cost: 30, Name: "spare drive", Description: "cold spare"},
	}
	require.NoError(t, f.list(10, items))
	require.NoError(t, f.buy())
	require.Equal(t, uint64(101), f.balance(f.params().EscrowAddress()))

	f.clk.Add(8 * 24 * time.Hour)
	require.NoError(t, f.requestMediation(f.buyer))

	buyerBefore := f.balance(f.buyer)
	sellerBefore := f.balance(f.seller)
	teamBefore := f.balance(f.team)

	require.NoError(t, f.mediate(f.mediator, MediationShares{Buyer: 40, Seller: 40, Team: 20}))

	// 40% of 101 rounds down to 40 for buyer and seller; the team share
	// absorbs the remainder.
	assert.Equal(t, buyerBefore+40, f.balance(f.buyer))
	assert.Equal(t, sellerBefore+40, f.balance(f.seller))
	assert.Equal(t, teamBefore+21, f.balance(f.team))
	assert.Zero(t, f.balance(f.params().EscrowAddress()))

	record := f.storage()
	assert.Equal(t, PhaseSettled, record.Phase())
	require.NotNil(t, record.MediationShares)
	assert.Equal(t, MediationShares{Buyer: 40, Seller: 40, Team: 20}, *record.MediationShares)
}

func TestMediateRequiresAllowedMediator(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())
	f.clk.Add(8 * 24 * time.Hour)
	require.NoError(t, f.requestMediation(f.buyer))

	err := f.mediate(f.buyer, MediationShares{Buyer: 100})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestMediateBeforeRequestFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())

	err := f.mediate(f.mediator, MediationShares{Buyer: 100})
	assert.ErrorIs(t, err, ErrTooEarly)
}

func TestMediateRejectsBadShares(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())
	f.clk.Add(8 * 24 * time.Hour)
	require.NoError(t, f.requestMediation(f.buyer))

	for _, shares := range []MediationShares{
		{Buyer: 33, Seller: 33, Team: 33},
		{Buyer: 50, Seller: 50, Team: 1},
		{Buyer: 200},
	} {
		assert.ErrorIs(t, f.mediate(f.mediator, shares), ErrInvalidData)
	}

	// A valid split still goes through afterwards.
	require.NoError(t, f.mediate(f.mediator, MediationShares{Buyer: 50, Seller: 30, Team: 20}))
}

func TestMediateTwiceFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.list(testCost, testItems()))
	require.NoError(t, f.buy())
	f.clk.Add(8 * 24 * time.Hour)
	require.NoError(t, f.requestMediation(f.buyer))
	require.NoError(t, f.mediate(f.mediator, MediationShares{Buyer: 100}))

	assert.ErrorIs(t, f.mediate(f.mediator, MediationShares{Buyer: 100}), ErrTooLate)
}
