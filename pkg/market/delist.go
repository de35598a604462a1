package market

import (
	"fmt"

	"validator_market/pkg/keys"
	"validator_market/pkg/ledger"
	"validator_market/pkg/loader"
	"validator_market/pkg/vote"

	"go.uber.org/zap"
)

// delist reverses both authority handovers back to the seller and destroys
// the listing record, returning its rent-exempt balance. Account order:
// seller (signer), vote account, withdrawer proxy, storage, this program,
// this program's data, upgrade proxy.
func (p *Processor) delist(tx ledger.Tx, _ *DelistOp, it *accountList, log *zap.Logger) error {
	log.Debug("delist called")

	withdrawer, err := it.next("authorized withdrawer")
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
	storageMeta, err := it.next("storage account")
	if err != nil {
		return err
	}
	programMeta, err := it.next("this program")
	if err != nil {
		return err
	}
	programDataMeta, err := it.next("program data")
	if err != nil {
		return err
	}
	upgradeProxy, err := it.next("upgrade proxy")
	if err != nil {
		return err
	}

	log.Debug("delist: returning upgrade authority")
	if err := p.returnUpgradeAuthority(tx, programMeta, programDataMeta, upgradeProxy, withdrawer.Address); err != nil {
		return err
	}

	log.Debug("delist: returning withdrawal authority")
	if err := p.returnWithdrawalAuthority(tx, voteMeta, withdrawerProxy, withdrawer.Address); err != nil {
		return err
	}

	log.Debug("delist: closing storage record")
	return p.closeStorage(tx, storageMeta, withdrawer, voteMeta.Address)
}

// returnUpgradeAuthority moves the deployment's upgrade rights from the
// upgrade proxy back to the seller, signed by the derived proxy identity.
func (p *Processor) returnUpgradeAuthority(tx ledger.Tx, program, programData, proxy ledger.AccountMeta,
	seller ledger.Address) error {

	if err := ledger.AssertKeyMatch(program.Address, p.params.Program); err != nil {
		return fmt.Errorf("program account: %w", err)
	}
	progAcct, err := tx.Account(program.Address)
	if err != nil {
		return fmt.Errorf("loading program account: %w", err)
	}
	if err := ledger.AssertOwner(progAcct, loader.ProgramID); err != nil {
		return fmt.Errorf("program account: %w", err)
	}
	if err := ledger.AssertKeyMatch(programData.Address, loader.ProgramDataAddress(program.Address)); err != nil {
		return fmt.Errorf("program data account: %w", err)
	}
	// Seed assertion doubles as the proxy's signature.
	if _, err := keys.AssertDerived(proxy.Address, p.params.Program, []byte(SeedUpgradeAuthority)); err != nil {
		return fmt.Errorf("upgrade proxy: %w", err)
	}

	pdAcct, err := tx.Account(programData.Address)
	if err != nil {
		return fmt.Errorf("loading program data: %w", err)
	}
	recorded, err := loader.UpgradeAuthority(pdAcct)
	if err != nil {
		return err
	}
	if recorded != proxy.Address {
		// Already out of the proxy's hands; nothing to reverse.
		return nil
	}
	return loader.SetUpgradeAuthority(tx, programData.Address, proxy.Address, &seller)
}

// returnWithdrawalAuthority moves the vote account's withdrawal rights from
// the withdrawer proxy back to the seller.
func (p *Processor) returnWithdrawalAuthority(tx ledger.Tx, voteMeta, proxy ledger.AccountMeta,
	seller ledger.Address) error {

	acct, err := tx.Account(voteMeta.Address)
	if err != nil {
		return fmt.Errorf("loading vote account: %w", err)
	}
	if err := ledger.AssertOwner(acct, vote.ProgramID); err != nil {
		return fmt.Errorf("vote account must be owned by the vote program: %w", err)
	}
	if _, err := keys.AssertDerived(proxy.Address, p.params.Program, []byte(SeedAuthorizedWithdrawer)); err != nil {
		return fmt.Errorf("withdrawer proxy: %w", err)
	}

	state, err := vote.DecodeState(acct.Data)
	if err != nil {
		return err
	}
	if state.AuthorizedWithdrawer != proxy.Address {
		// Sold: withdrawal rights already belong to the buyer.
		return nil
	}
	return vote.Authorize(tx, voteMeta.Address, proxy.Address, seller)
}

// closeStorage destroys the listing record after checking nothing is left
// pending: a sold listing may only be closed once every secondary item is
// validated; an unsold listing may always be closed.
func (p *Processor) closeStorage(tx ledger.Tx, storageMeta, seller ledger.AccountMeta,
	voteAccount ledger.Address) error {

	if err := ledger.AssertSigner(seller); err != nil {
		return fmt.Errorf("seller: %w", err)
	}
	record, err := p.loadStorage(tx, storageMeta.Address)
	if err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(seller.Address, record.AuthorizedWithdrawer); err != nil {
		return fmt.Errorf("only the registered seller can delist: %w", err)
	}
	if err := ledger.AssertKeyMatch(voteAccount, record.VoteAccount); err != nil {
		return fmt.Errorf("vote account does not match the listing: %w", err)
	}

	if record.Purchase != nil && record.UnvalidatedCount() > 0 {
		return fmt.Errorf("must wait for all secondary item transfers to be finalized: %w", ErrTooEarly)
	}

	if err := tx.CloseAccount(storageMeta.Address, seller.Address); err != nil {
		return fmt.Errorf("closing storage record: %w", err)
	}
	return nil
}
