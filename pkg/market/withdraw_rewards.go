package market

import (
	"fmt"

	"validator_market/pkg/keys"
	"validator_market/pkg/ledger"
	"validator_market/pkg/vote"

	"go.uber.org/zap"
)

// withdrawRewards sweeps everything above the vote account's minimum reserve
// to the registered withdrawer, signed by the withdrawer proxy. Account
// order: registered withdrawer, vote account, withdrawer proxy, storage.
func (p *Processor) withdrawRewards(tx ledger.Tx, _ *WithdrawRewardsOp, it *accountList, log *zap.Logger) error {
	log.Debug("withdraw rewards called")

	withdrawer, err := it.next("registered withdrawer")
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

	// Seed assertion doubles as the proxy's signature.
	if _, err := keys.AssertDerived(withdrawerProxy.Address, p.params.Program, []byte(SeedAuthorizedWithdrawer)); err != nil {
		return fmt.Errorf("withdrawer proxy: %w", err)
	}

	record, err := p.loadStorage(tx, storageMeta.Address)
	if err != nil {
		return err
	}

	voteAcct, err := tx.Account(voteMeta.Address)
	if err != nil {
		return fmt.Errorf("loading vote account: %w", err)
	}
	if err := ledger.AssertOwner(voteAcct, vote.ProgramID); err != nil {
		return fmt.Errorf("vote account must be owned by the vote program: %w", err)
	}
	if err := ledger.AssertKeyMatch(voteMeta.Address, record.VoteAccount); err != nil {
		return fmt.Errorf("vote account does not match the listing: %w", err)
	}
	if err := ledger.AssertKeyMatch(withdrawer.Address, record.AuthorizedWithdrawer); err != nil {
		return fmt.Errorf("registered withdrawer: %w", err)
	}

	amount, err := checkedSub(voteAcct.Balance, vote.MinimumBalance(tx.Rent()))
	if err != nil {
		return fmt.Errorf("reward amount: %w", err)
	}
	log.Debug("withdraw rewards: sweeping", zap.Uint64("amount", amount))

	return vote.Withdraw(tx, voteMeta.Address, withdrawerProxy.Address, withdrawer.Address, amount)
}
