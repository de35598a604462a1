package market

import (
	"fmt"

	"validator_market/pkg/keys"
	"validator_market/pkg/ledger"
	"validator_market/pkg/vote"

	"go.uber.org/zap"
)

// buy purchases the listing: the price splits between seller, escrow and
// team, the purchase is recorded, and the vote account's withdrawal authority
// moves from the withdrawer proxy to the buyer. Account order: payer
// (signer), storage, registered withdrawer, vote account, withdrawer proxy,
// escrow, team.
func (p *Processor) buy(tx ledger.Tx, _ *BuyOp, it *accountList, log *zap.Logger) error {
	log.Debug("buy called")

	payer, err := it.next("payer")
	if err != nil {
		return err
	}
	storageMeta, err := it.next("storage account")
	if err != nil {
		return err
	}
	registeredWithdrawer, err := it.next("registered withdrawer")
	if err != nil {
		return err
	}
	voteMeta, err := it.next("vote account")
	if err != nil {
		return err
	}
	withdrawerProxy, err := it.next("withdrawer proxy")
	if err != nil {
		return err
	}
	escrowMeta, err := it.next("escrow account")
	if err != nil {
		return err
	}
	teamMeta, err := it.next("team account")
	if err != nil {
		return err
	}

	if err := ledger.AssertSigner(payer); err != nil {
		return fmt.Errorf("payer: %w", err)
	}

	record, err := p.loadStorage(tx, storageMeta.Address)
	if err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(registeredWithdrawer.Address, record.AuthorizedWithdrawer); err != nil {
		return fmt.Errorf("registered withdrawer: %w", err)
	}
	if err := p.assertEscrow(escrowMeta.Address); err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(teamMeta.Address, p.params.TeamAddress); err != nil {
		return fmt.Errorf("team account: %w", err)
	}

	toOwner, toEscrow, toTeam, err := p.feeSplit(record)
	if err != nil {
		return err
	}
	log.Debug("buy: fee split",
		zap.Uint64("to_owner", toOwner),
		zap.Uint64("to_escrow", toEscrow),
		zap.Uint64("to_team", toTeam))

	if err := tx.Transfer(payer.Address, registeredWithdrawer.Address, toOwner); err != nil {
		return fmt.Errorf("transfer to owner: %w", err)
	}
	if toEscrow > 0 {
		if err := tx.Transfer(payer.Address, escrowMeta.Address, toEscrow); err != nil {
			return fmt.Errorf("transfer to escrow: %w", err)
		}
	}
	if toTeam > 0 {
		if err := tx.Transfer(payer.Address, teamMeta.Address, toTeam); err != nil {
			return fmt.Errorf("transfer to team: %w", err)
		}
	}

	now, err := unixTimestamp(tx.Now())
	if err != nil {
		return err
	}
	if err := record.recordPurchase(payer.Address, now); err != nil {
		return err
	}
	if err := p.saveStorage(tx, record); err != nil {
		return err
	}

	log.Debug("buy: handing withdrawal authority to buyer")
	if _, err := keys.AssertDerived(withdrawerProxy.Address, p.params.Program, []byte(SeedAuthorizedWithdrawer)); err != nil {
		return fmt.Errorf("withdrawer proxy: %w", err)
	}
	acct, err := tx.Account(voteMeta.Address)
	if err != nil {
		return fmt.Errorf("loading vote account: %w", err)
	}
	if err := ledger.AssertOwner(acct, vote.ProgramID); err != nil {
		return fmt.Errorf("vote account must be owned by the vote program: %w", err)
	}
	return vote.Authorize(tx, voteMeta.Address, withdrawerProxy.Address, payer.Address)
}

// feeSplit computes the purchase splits over the price in integer basis
// points, rounding down. The escrow carve-out applies only when secondary
// items exist; escrow additionally holds twice the summed item costs: the
// buyer's item payment plus a matching seller-side security deposit, pooled
// with no per-party sub-accounting.
func (p *Processor) feeSplit(record *Storage) (toOwner, toEscrow, toTeam uint64, err error) {
	escrowBP := uint64(0)
	if len(record.SecondaryItems) > 0 {
		escrowBP = p.params.EscrowBasisPoints
	}

	ownerBP, err := checkedSub(10_000, escrowBP+p.params.TeamFeeBasisPoints)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("owner basis points: %w", err)
	}
	toOwner, err = checkedMulDiv(record.Cost, ownerBP, 10_000)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("owner cut: %w", err)
	}

	escrowCut, err := checkedMulDiv(record.Cost, escrowBP, 10_000)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("escrow cut: %w", err)
	}
	itemHold, err := checkedMul(record.SecondaryItemsCost(), 2)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("item hold: %w", err)
	}
	toEscrow, err = checkedAdd(escrowCut, itemHold)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("escrow total: %w", err)
	}

	toTeam, err = checkedMulDiv(record.Cost, p.params.TeamFeeBasisPoints, 10_000)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("team cut: %w", err)
	}
	return toOwner, toEscrow, toTeam, nil
}
