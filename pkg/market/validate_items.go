package market

import (
	"fmt"

	"validator_market/pkg/ledger"

	"go.uber.org/zap"
)

// validateSecondaryItemsTransfers marks one secondary item acknowledged by
// the buyer. Settlement is all-or-nothing: only the last acknowledgement
// moves funds, refunding the buyer's item hold and releasing the entire
// remaining escrow balance to the seller. Account order: buyer (signer),
// storage, escrow, registered withdrawer.
func (p *Processor) validateSecondaryItemsTransfers(tx ledger.Tx, op *ValidateSecondaryItemsTransfersOp,
	it *accountList, log *zap.Logger) error {

	log.Debug("validate secondary items called", zap.Uint32("item_index", op.ItemIndex))

	buyer, err := it.next("buyer")
	if err != nil {
		return err
	}
	storageMeta, err := it.next("storage account")
	if err != nil {
		return err
	}
	escrowMeta, err := it.next("escrow account")
	if err != nil {
		return err
	}
	withdrawer, err := it.next("registered withdrawer")
	if err != nil {
		return err
	}

	if err := ledger.AssertSigner(buyer); err != nil {
		return fmt.Errorf("buyer: %w", err)
	}
	if err := p.assertEscrow(escrowMeta.Address); err != nil {
		return err
	}

	record, err := p.loadStorage(tx, storageMeta.Address)
	if err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(withdrawer.Address, record.AuthorizedWithdrawer); err != nil {
		return fmt.Errorf("registered withdrawer: %w", err)
	}
	if record.Phase() == PhaseSettled {
		return fmt.Errorf("purchase has already been finalized: %w", ErrTooLate)
	}
	if record.Purchase == nil {
		return fmt.Errorf("validation cannot be performed before a purchase has been made: %w", ErrOptionUnwrap)
	}
	if err := ledger.AssertKeyMatch(buyer.Address, record.Purchase.Buyer); err != nil {
		return fmt.Errorf("only the buyer can validate secondary item transfers: %w", err)
	}

	now, err := unixTimestamp(tx.Now())
	if err != nil {
		return err
	}
	if err := record.validateItem(int(op.ItemIndex), now); err != nil {
		return err
	}

	if record.UnvalidatedCount() == 0 {
		itemsCost := record.SecondaryItemsCost()
		log.Debug("validate: releasing escrow", zap.Uint64("item_refund", itemsCost))

		if err := tx.Transfer(escrowMeta.Address, buyer.Address, itemsCost); err != nil {
			return fmt.Errorf("refunding buyer item hold: %w", err)
		}
		escrowAcct, err := tx.Account(escrowMeta.Address)
		if err != nil {
			return fmt.Errorf("loading escrow account: %w", err)
		}
		if err := tx.Transfer(escrowMeta.Address, withdrawer.Address, escrowAcct.Balance); err != nil {
			return fmt.Errorf("releasing escrow to seller: %w", err)
		}
		if err := record.finalize(now); err != nil {
			return err
		}
	}

	return p.saveStorage(tx, record)
}
