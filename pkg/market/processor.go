package market

import (
	"context"
	"fmt"

	"validator_market/pkg/keys"
	"validator_market/pkg/ledger"
	"validator_market/pkg/registry"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Processor routes typed operations to their modules. Each operation executes
// as one atomic unit against the store: every mutation lands or none does.
type Processor struct {
	store    ledger.Store
	params   Params
	registry registry.Registry
	logger   *zap.Logger
}

// NewProcessor creates a processor for one deployment.
func NewProcessor(store ledger.Store, params Params, reg registry.Registry, logger *zap.Logger) (*Processor, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("validating deployment params: %w", err)
	}
	return &Processor{
		store:    store,
		params:   params,
		registry: reg,
		logger:   logger,
	}, nil
}

// Params returns the deployment parameters.
func (p *Processor) Params() Params { return p.params }

// Process executes one operation against the supplied positional accounts.
func (p *Processor) Process(ctx context.Context, op Operation, accounts []ledger.AccountMeta) error {
	log := opLogger(p.logger, op.Verbosity()).With(zap.String("operation", op.name()))

	err := p.store.Execute(ctx, func(tx ledger.Tx) error {
		it := &accountList{metas: accounts}
		switch o := op.(type) {
		case *ListOp:
			return p.list(tx, o, it, log)
		case *DelistOp:
			return p.delist(tx, o, it, log)
		case *BuyOp:
			return p.buy(tx, o, it, log)
		case *WithdrawRewardsOp:
			return p.withdrawRewards(tx, o, it, log)
		case *RequestMediationOp:
			return p.requestMediation(tx, o, it, log)
		case *MediateOp:
			return p.mediate(tx, o, it, log)
		case *ValidateSecondaryItemsTransfersOp:
			return p.validateSecondaryItemsTransfers(tx, o, it, log)
		default:
			return fmt.Errorf("unknown operation type %T: %w", op, ErrInvalidData)
		}
	})
	if err != nil {
		p.logger.Error("Operation rejected",
			zap.String("operation", op.name()),
			zap.Error(err))
		return err
	}

	log.Info("Operation applied")
	return nil
}

// opLogger maps the operation's verbosity argument onto zap levels.
func opLogger(base *zap.Logger, verbosity uint8) *zap.Logger {
	switch {
	case verbosity >= 4:
		return base
	case verbosity >= 2:
		return base.WithOptions(zap.IncreaseLevel(zapcore.InfoLevel))
	default:
		return base.WithOptions(zap.IncreaseLevel(zapcore.ErrorLevel))
	}
}

// accountList walks an operation's positional account metas.
type accountList struct {
	metas []ledger.AccountMeta
	pos   int
}

func (l *accountList) next(name string) (ledger.AccountMeta, error) {
	if l.pos >= len(l.metas) {
		return ledger.AccountMeta{}, fmt.Errorf("not enough account keys: missing %s: %w", name, ErrInvalidData)
	}
	m := l.metas[l.pos]
	l.pos++
	return m, nil
}

// loadStorage asserts the supplied address is the deployment's storage record
// and parses it.
func (p *Processor) loadStorage(tx ledger.Tx, addr ledger.Address) (*Storage, error) {
	if _, err := keys.AssertDerived(addr, p.params.Program, []byte(SeedProgramStorage)); err != nil {
		return nil, fmt.Errorf("storage account: %w", err)
	}
	acct, err := tx.Account(addr)
	if err != nil {
		return nil, fmt.Errorf("loading storage account: %w", err)
	}
	if err := ledger.AssertOwner(acct, p.params.Program); err != nil {
		return nil, fmt.Errorf("storage account: %w", err)
	}
	s, err := DecodeStorage(acct.Data)
	if err != nil {
		return nil, fmt.Errorf("parsing storage record: %w", err)
	}
	return s, nil
}

// saveStorage persists the record back into its fixed allocation.
func (p *Processor) saveStorage(tx ledger.Tx, s *Storage) error {
	if err := tx.SetData(p.params.StorageAddress(), s.Encode()); err != nil {
		return fmt.Errorf("persisting storage record: %w", err)
	}
	return nil
}

// assertEscrow verifies the supplied escrow account is the derived vault.
func (p *Processor) assertEscrow(addr ledger.Address) error {
	if _, err := keys.AssertDerived(addr, p.params.Program, []byte(SeedEscrowAccount)); err != nil {
		return fmt.Errorf("escrow account: %w", err)
	}
	return nil
}
