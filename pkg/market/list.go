package market

import (
	"fmt"

	"validator_market/pkg/keys"
	"validator_market/pkg/ledger"
	"validator_market/pkg/loader"
	"validator_market/pkg/vote"

	"go.uber.org/zap"
)

// list puts the validator up for sale: both authorities move to the
// protocol's proxy identities, the listing record is allocated at its fixed
// derived address, and the registry collaborator is notified. Account order:
// seller (signer), vote account, withdrawer proxy, storage, this program,
// this program's data, current upgrade authority (signer), upgrade proxy,
// team, registry storage.
func (p *Processor) list(tx ledger.Tx, op *ListOp, it *accountList, log *zap.Logger) error {
	log.Debug("list called")

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
	upgradeAuthority, err := it.next("current upgrade authority")
	if err != nil {
		return err
	}
	upgradeProxy, err := it.next("upgrade proxy")
	if err != nil {
		return err
	}
	teamMeta, err := it.next("team account")
	if err != nil {
		return err
	}
	registryStorage, err := it.next("registry storage")
	if err != nil {
		return err
	}

	now, err := unixTimestamp(tx.Now())
	if err != nil {
		return err
	}
	if int64(op.MediatableDate) > int64(now)+int64(MaxMediationWindow.Seconds()) {
		return fmt.Errorf("mediatable date can't be more than 30 days in the future: %w", ErrTooLate)
	}
	if op.ValidatorName == "" {
		return fmt.Errorf("validator name can't be empty: %w", ErrInvalidData)
	}

	log.Debug("list: retargeting upgrade authority")
	if err := p.takeUpgradeAuthority(tx, programMeta, programDataMeta, upgradeAuthority, upgradeProxy); err != nil {
		return err
	}

	log.Debug("list: retargeting withdrawal authority")
	if err := p.takeWithdrawalAuthority(tx, voteMeta, withdrawer, withdrawerProxy); err != nil {
		return err
	}

	log.Debug("list: creating storage record")
	if err := p.createStorage(tx, op, storageMeta, withdrawer.Address, voteMeta.Address, now); err != nil {
		return err
	}

	if err := ledger.AssertKeyMatch(teamMeta.Address, p.params.TeamAddress); err != nil {
		return fmt.Errorf("team account: %w", err)
	}

	log.Debug("list: registering deployment")
	if err := p.registry.Register(tx, withdrawer.Address, p.params.Program,
		teamMeta.Address, registryStorage.Address); err != nil {
		return fmt.Errorf("registry call: %w", err)
	}
	return nil
}

// takeUpgradeAuthority proves the caller holds the deployment's upgrade
// rights and moves them to the upgrade proxy.
func (p *Processor) takeUpgradeAuthority(tx ledger.Tx, program, programData, current, proxy ledger.AccountMeta) error {
	if err := ledger.AssertSigner(current); err != nil {
		return fmt.Errorf("current upgrade authority: %w", err)
	}
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

	proxyAddr := proxy.Address
	if _, err := keys.AssertDerived(proxyAddr, p.params.Program, []byte(SeedUpgradeAuthority)); err != nil {
		return fmt.Errorf("upgrade proxy: %w", err)
	}
	return loader.SetUpgradeAuthority(tx, programData.Address, current.Address, &proxyAddr)
}

// takeWithdrawalAuthority proves the seller currently holds the vote
// account's withdrawal rights and moves them to the withdrawer proxy.
func (p *Processor) takeWithdrawalAuthority(tx ledger.Tx, voteMeta, current, proxy ledger.AccountMeta) error {
	if err := ledger.AssertSigner(current); err != nil {
		return fmt.Errorf("current authorized withdrawer: %w", err)
	}
	acct, err := tx.Account(voteMeta.Address)
	if err != nil {
		return fmt.Errorf("loading vote account: %w", err)
	}
	if err := ledger.AssertOwner(acct, vote.ProgramID); err != nil {
		return fmt.Errorf("vote account must be owned by the vote program: %w", err)
	}
	state, err := vote.DecodeState(acct.Data)
	if err != nil {
		return err
	}
	if err := ledger.AssertKeyMatch(current.Address, state.AuthorizedWithdrawer); err != nil {
		return fmt.Errorf("seller is not the vote account's authority: %w", err)
	}
	if _, err := keys.AssertDerived(proxy.Address, p.params.Program, []byte(SeedAuthorizedWithdrawer)); err != nil {
		return fmt.Errorf("withdrawer proxy: %w", err)
	}
	return vote.Authorize(tx, voteMeta.Address, current.Address, proxy.Address)
}

// createStorage allocates the listing record at its fixed derived address,
// funded to its rent-exempt minimum by the seller.
func (p *Processor) createStorage(tx ledger.Tx, op *ListOp, storageMeta ledger.AccountMeta,
	seller, voteAccount ledger.Address, _ uint32) error {

	if _, err := keys.AssertDerived(storageMeta.Address, p.params.Program, []byte(SeedProgramStorage)); err != nil {
		return fmt.Errorf("storage account: %w", err)
	}

	items := make([]StoredSecondaryItem, 0, len(op.SecondaryItems))
	for _, item := range op.SecondaryItems {
		items = append(items, item.toStored())
	}
	record := &Storage{
		ValidationPhrase:     StorageValidationPhrase,
		AuthorizedWithdrawer: seller,
		VoteAccount:          voteAccount,
		Cost:                 op.Cost,
		MediatableDate:       op.MediatableDate,
		SecondaryItems:       items,
		Description:          op.Description,
		ValidatorName:        op.ValidatorName,
		ValidatorLogoURL:     op.ValidatorLogoURL,
	}

	space := record.Space()
	lamports := tx.Rent().MinimumBalance(space)
	if _, err := tx.CreateAccount(storageMeta.Address, p.params.Program, seller, space, lamports); err != nil {
		return fmt.Errorf("allocating storage record: %w", err)
	}
	return p.saveStorage(tx, record)
}
