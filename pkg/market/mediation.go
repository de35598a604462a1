package market

import (
	"fmt"

	"validator_market/pkg/ledger"

	"go.uber.org/zap"
)

// requestMediation opens the dispute window. Only the buyer or the seller may
// request, only once, only at or after the listing's mediatable date, and
// only after a purchase exists. Account order: requester (signer), storage.
func (p *Processor) requestMediation(tx ledger.Tx, _ *RequestMediationOp, it *accountList, log *zap.Logger) error {
	log.Debug("request mediation called")

	requester, err := it.next("requester")
	if err != nil {
		return err
	}
	storageMeta, err := it.next("storage account")
	if err != nil {
		return err
	}

	if err := ledger.AssertSigner(requester); err != nil {
		return fmt.Errorf("requester: %w", err)
	}

	record, err := p.loadStorage(tx, storageMeta.Address)
	if err != nil {
		return err
	}
	if record.Purchase == nil {
		return fmt.Errorf("one must wait for a purchase to take place before requesting mediation: %w", ErrOptionUnwrap)
	}
	if requester.Address != record.AuthorizedWithdrawer && requester.Address != record.Purchase.Buyer {
		return fmt.Errorf("only the buyer or the seller can request mediation: %w", ErrNotAuthorized)
	}

	now, err := unixTimestamp(tx.Now())
	if err != nil {
		return err
	}
	if err := record.requestMediation(now); err != nil {
		return err
	}
	return p.saveStorage(tx, record)
}

// mediate resolves an open dispute: an allow-listed mediator splits the
// escrow balance by percentages, the team absorbing the rounding remainder so
// the three transfers never exceed the balance. Account order: mediator
// (signer), registered withdrawer, storage, buyer, escrow, team.
func (p *Processor) mediate(tx ledger.Tx, op *MediateOp, it *accountList, log *zap.Logger) error {
	log.Debug("mediate called")

	mediator, err := it.next("mediator")
	if err != nil {
		return err
	}
	withdrawer, err := it.next("registered withdrawer")
	if err != nil {
		return err
	}
	storageMeta, err := it.next("storage account")
	if err != nil {
		return err
	}
	buyer, err := it.next("buyer")
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

	if err := ledger.AssertSigner(mediator); err != nil {
		return fmt.Errorf("mediator: %w", err)
	}
	if !p.params.IsMediator(mediator.Address) {
		return fmt.Errorf("only approved mediators can mediate: %w", ErrNotAuthorized)
	}
	if err := p.assertEscrow(escrowMeta.Address); err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(teamMeta.Address, p.params.TeamAddress); err != nil {
		return fmt.Errorf("team account: %w", err)
	}

	record, err := p.loadStorage(tx, storageMeta.Address)
	if err != nil {
		return err
	}
	if record.Phase() == PhaseSettled {
		return fmt.Errorf("purchase has already been finalized: %w", ErrTooLate)
	}
	if err := ledger.AssertKeyMatch(withdrawer.Address, record.AuthorizedWithdrawer); err != nil {
		return fmt.Errorf("registered withdrawer: %w", err)
	}
	if record.Purchase == nil {
		return fmt.Errorf("mediation can only take place if a purchase took place: %w", ErrOptionUnwrap)
	}
	if err := ledger.AssertKeyMatch(buyer.Address, record.Purchase.Buyer); err != nil {
		return fmt.Errorf("buyer account: %w", err)
	}

	now, err := unixTimestamp(tx.Now())
	if err != nil {
		return err
	}
	if err := record.resolveMediation(op.Shares, now); err != nil {
		return err
	}

	escrowAcct, err := tx.Account(escrowMeta.Address)
	if err != nil {
		return fmt.Errorf("loading escrow account: %w", err)
	}
	toBuyer, toSeller, toTeam, err := splitEscrow(escrowAcct.Balance, op.Shares)
	if err != nil {
		return err
	}
	log.Debug("mediate: splitting escrow",
		zap.Uint64("to_buyer", toBuyer),
		zap.Uint64("to_seller", toSeller),
		zap.Uint64("to_team", toTeam))

	if err := tx.Transfer(escrowMeta.Address, withdrawer.Address, toSeller); err != nil {
		return fmt.Errorf("transfer to seller: %w", err)
	}
	if toBuyer > 0 {
		if err := tx.Transfer(escrowMeta.Address, buyer.Address, toBuyer); err != nil {
			return fmt.Errorf("transfer to buyer: %w", err)
		}
	}
	if toTeam > 0 {
		if err := tx.Transfer(escrowMeta.Address, teamMeta.Address, toTeam); err != nil {
			return fmt.Errorf("transfer to team: %w", err)
		}
	}

	return p.saveStorage(tx, record)
}

// splitEscrow divides the escrow balance by the decided percentages. The team
// takes the rounding remainder; a shortfall split would otherwise let the
// three transfers exceed the balance.
func splitEscrow(balance uint64, shares MediationShares) (toBuyer, toSeller, toTeam uint64, err error) {
	toBuyer, err = checkedMulDiv(balance, shares.Buyer, 100)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("buyer share: %w", err)
	}
	toSeller, err = checkedMulDiv(balance, shares.Seller, 100)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("seller share: %w", err)
	}
	paid, err := checkedAdd(toBuyer, toSeller)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("buyer + seller shares: %w", err)
	}
	toTeam, err = checkedSub(balance, paid)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("team remainder: %w", err)
	}
	return toBuyer, toSeller, toTeam, nil
}
