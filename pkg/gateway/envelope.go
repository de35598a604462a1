package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"validator_market/pkg/ledger"
	"validator_market/pkg/market"
)

// OperationType names one of the seven marketplace operations on the wire.
type OperationType string

const (
	TypeList                            OperationType = "List"
	TypeDelist                          OperationType = "Delist"
	TypeBuy                             OperationType = "Buy"
	TypeWithdrawRewards                 OperationType = "WithdrawRewards"
	TypeRequestMediation                OperationType = "RequestMediation"
	TypeMediate                         OperationType = "Mediate"
	TypeValidateSecondaryItemsTransfers OperationType = "ValidateSecondaryItemsTransfers"
)

// Envelope is one submitted operation: typed arguments plus the positional
// account list the operation's module expects.
type Envelope struct {
	ID        string               `json:"id"`
	Type      OperationType        `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Args      json.RawMessage      `json:"args,omitempty"`
	Accounts  []ledger.AccountMeta `json:"accounts"`
}

// Receipt reports the outcome of one envelope.
type Receipt struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// DecodeEnvelope maps an envelope onto the typed operation it carries.
func DecodeEnvelope(env *Envelope) (market.Operation, error) {
	var op market.Operation
	switch env.Type {
	case TypeList:
		op = &market.ListOp{}
	case TypeDelist:
		op = &market.DelistOp{}
	case TypeBuy:
		op = &market.BuyOp{}
	case TypeWithdrawRewards:
		op = &market.WithdrawRewardsOp{}
	case TypeRequestMediation:
		op = &market.RequestMediationOp{}
	case TypeMediate:
		op = &market.MediateOp{}
	case TypeValidateSecondaryItemsTransfers:
		op = &market.ValidateSecondaryItemsTransfersOp{}
	default:
		return nil, fmt.Errorf("unknown operation type %q", env.Type)
	}

	if len(env.Args) > 0 {
		if err := json.Unmarshal(env.Args, op); err != nil {
			return nil, fmt.Errorf("decoding %s args: %w", env.Type, err)
		}
	}
	return op, nil
}

// NewEnvelope builds an envelope for an operation. Used by clients and tests.
func NewEnvelope(id string, opType OperationType, args interface{}, accounts []ledger.AccountMeta) (*Envelope, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding %s args: %w", opType, err)
	}
	return &Envelope{
		ID:        id,
		Type:      opType,
		Timestamp: time.Now().UTC(),
		Args:      raw,
		Accounts:  accounts,
	}, nil
}
