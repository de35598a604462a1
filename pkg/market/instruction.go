package market

import (
	"encoding/binary"
	"fmt"
)

// Operation tags on the wire.
const (
	opList uint8 = iota
	opDelist
	opBuy
	opWithdrawRewards
	opRequestMediation
	opMediate
	opValidateSecondaryItemsTransfers
)

// Operation is one of the seven typed requests the dispatcher routes. Each
// carries a verbosity level controlling how chatty its execution logs are.
type Operation interface {
	Verbosity() uint8
	name() string
}

// SecondaryItem is the instruction-side form of a side deliverable.
type SecondaryItem struct {
	Cost        uint64 `json:"cost"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (i SecondaryItem) toStored() StoredSecondaryItem {
	return StoredSecondaryItem{
		Cost:        i.Cost,
		Name:        i.Name,
		Description: i.Description,
	}
}

// ListOp lists the validator for sale.
type ListOp struct {
	LogLevel         uint8           `json:"log_level"`
	Cost             uint64          `json:"cost"`
	MediatableDate   uint32          `json:"mediatable_date"`
	SecondaryItems   []SecondaryItem `json:"secondary_items"`
	Description      string          `json:"description"`
	ValidatorName    string          `json:"validator_name"`
	ValidatorLogoURL string          `json:"validator_logo_url"`
}

// DelistOp takes the listing down and returns both authorities to the seller.
type DelistOp struct {
	LogLevel uint8 `json:"log_level"`
}

// BuyOp purchases the listing.
type BuyOp struct {
	LogLevel uint8 `json:"log_level"`
}

// WithdrawRewardsOp sweeps validator rewards above the minimum reserve.
type WithdrawRewardsOp struct {
	LogLevel uint8 `json:"log_level"`
}

// RequestMediationOp opens the dispute path.
type RequestMediationOp struct {
	LogLevel uint8 `json:"log_level"`
}

// MediateOp resolves an open dispute with a percentage split.
type MediateOp struct {
	LogLevel uint8           `json:"log_level"`
	Shares   MediationShares `json:"mediation_shares"`
}

// ValidateSecondaryItemsTransfersOp acknowledges one secondary item.
type ValidateSecondaryItemsTransfersOp struct {
	LogLevel  uint8  `json:"log_level"`
	ItemIndex uint32 `json:"item_index"`
}

func (o *ListOp) Verbosity() uint8                            { return o.LogLevel }
func (o *DelistOp) Verbosity() uint8                          { return o.LogLevel }
func (o *BuyOp) Verbosity() uint8                             { return o.LogLevel }
func (o *WithdrawRewardsOp) Verbosity() uint8                 { return o.LogLevel }
func (o *RequestMediationOp) Verbosity() uint8                { return o.LogLevel }
func (o *MediateOp) Verbosity() uint8                         { return o.LogLevel }
func (o *ValidateSecondaryItemsTransfersOp) Verbosity() uint8 { return o.LogLevel }

func (o *ListOp) name() string                            { return "List" }
func (o *DelistOp) name() string                          { return "Delist" }
func (o *BuyOp) name() string                             { return "Buy" }
func (o *WithdrawRewardsOp) name() string                 { return "WithdrawRewards" }
func (o *RequestMediationOp) name() string                { return "RequestMediation" }
func (o *MediateOp) name() string                         { return "Mediate" }
func (o *ValidateSecondaryItemsTransfersOp) name() string { return "ValidateSecondaryItemsTransfers" }

// DecodeOperation parses the binary wire form: a one-byte tag followed by the
// operation's little-endian fields.
func DecodeOperation(data []byte) (Operation, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty operation payload: %w", ErrInvalidData)
	}
	r := &byteReader{data: data[1:]}

	var op Operation
	switch data[0] {
	case opList:
		l := &ListOp{}
		l.LogLevel = r.u8()
		l.Cost = r.u64()
		l.MediatableDate = r.u32()
		n := int(r.u32())
		if r.err == nil && n > len(data) {
			return nil, fmt.Errorf("item count %d exceeds payload: %w", n, ErrInvalidData)
		}
		for i := 0; i < n && r.err == nil; i++ {
			l.SecondaryItems = append(l.SecondaryItems, SecondaryItem{
				Cost:        r.u64(),
				Name:        r.str(),
				Description: r.str(),
			})
		}
		l.Description = r.str()
		l.ValidatorName = r.str()
		l.ValidatorLogoURL = r.str()
		op = l
	case opDelist:
		op = &DelistOp{LogLevel: r.u8()}
	case opBuy:
		op = &BuyOp{LogLevel: r.u8()}
	case opWithdrawRewards:
		op = &WithdrawRewardsOp{LogLevel: r.u8()}
	case opRequestMediation:
		op = &RequestMediationOp{LogLevel: r.u8()}
	case opMediate:
		m := &MediateOp{}
		m.LogLevel = r.u8()
		m.Shares = MediationShares{Buyer: r.u64(), Seller: r.u64(), Team: r.u64()}
		op = m
	case opValidateSecondaryItemsTransfers:
		v := &ValidateSecondaryItemsTransfersOp{}
		v.LogLevel = r.u8()
		v.ItemIndex = r.u32()
		op = v
	default:
		return nil, fmt.Errorf("unknown operation tag %d: %w", data[0], ErrInvalidData)
	}

	if r.err != nil {
		return nil, fmt.Errorf("decoding %s: %w", op.name(), r.err)
	}
	return op, nil
}

// EncodeOperation produces the binary wire form. Inverse of DecodeOperation.
func EncodeOperation(op Operation) ([]byte, error) {
	var buf []byte
	switch o := op.(type) {
	case *ListOp:
		buf = append(buf, opList, o.LogLevel)
		buf = binary.LittleEndian.AppendUint64(buf, o.Cost)
		buf = binary.LittleEndian.AppendUint32(buf, o.MediatableDate)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(o.SecondaryItems)))
		for _, item := range o.SecondaryItems {
			buf = binary.LittleEndian.AppendUint64(buf, item.Cost)
			buf = appendString(buf, item.Name)
			buf = appendString(buf, item.Description)
		}
		buf = appendString(buf, o.Description)
		buf = appendString(buf, o.ValidatorName)
		buf = appendString(buf, o.ValidatorLogoURL)
	case *DelistOp:
		buf = append(buf, opDelist, o.LogLevel)
	case *BuyOp:
		buf = append(buf, opBuy, o.LogLevel)
	case *WithdrawRewardsOp:
		buf = append(buf, opWithdrawRewards, o.LogLevel)
	case *RequestMediationOp:
		buf = append(buf, opRequestMediation, o.LogLevel)
	case *MediateOp:
		buf = append(buf, opMediate, o.LogLevel)
		buf = binary.LittleEndian.AppendUint64(buf, o.Shares.Buyer)
		buf = binary.LittleEndian.AppendUint64(buf, o.Shares.Seller)
		buf = binary.LittleEndian.AppendUint64(buf, o.Shares.Team)
	case *ValidateSecondaryItemsTransfersOp:
		buf = append(buf, opValidateSecondaryItemsTransfers, o.LogLevel)
		buf = binary.LittleEndian.AppendUint32(buf, o.ItemIndex)
	default:
		return nil, fmt.Errorf("unknown operation type %T: %w", op, ErrInvalidData)
	}
	return buf, nil
}
