package market

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"validator_market/pkg/ledger"
)

// Derivation seeds for the protocol's identities. Fixed, with no
// listing-specific discriminator: one deployment manages exactly one listing.
const (
	SeedAuthorizedWithdrawer = "authorized_withdrawer"
	SeedUpgradeAuthority     = "upgrade_authority"
	SeedProgramStorage       = "program_storage"
	SeedEscrowAccount        = "escrow_account"
)

// StorageValidationPhrase tags a well-formed listing record.
const StorageValidationPhrase uint32 = 838_927_652

// MaxMediationWindow caps how far past listing time the mediation window may
// open.
const MaxMediationWindow = 30 * 24 * time.Hour

// Phase is the listing's lifecycle state, derived from the persisted record.
type Phase int

const (
	// PhaseUnsold: no purchase yet.
	PhaseUnsold Phase = iota
	// PhaseSoldPending: bought, settlement or dispute still open.
	PhaseSoldPending
	// PhaseSettled: purchase finalized; nothing left to settle.
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseUnsold:
		return "unsold"
	case PhaseSoldPending:
		return "sold-pending-settlement"
	case PhaseSettled:
		return "settled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Purchase records a completed buy.
type Purchase struct {
	Buyer         ledger.Address
	Date          uint32
	DateFinalized *uint32
}

// StoredSecondaryItem is one side deliverable bundled into the sale.
type StoredSecondaryItem struct {
	Cost          uint64
	Name          string
	Description   string
	DateValidated *uint32
}

// MediationShares splits the escrow balance by percentage.
type MediationShares struct {
	Buyer  uint64 `json:"buyer"`
	Seller uint64 `json:"seller"`
	Team   uint64 `json:"team"`
}

// VerifySum fails unless the three shares sum to exactly 100.
func (m MediationShares) VerifySum() error {
	if m.Buyer > 100 || m.Seller > 100 || m.Team > 100 || m.Buyer+m.Seller+m.Team != 100 {
		return fmt.Errorf("mediation shares %d/%d/%d must sum to 100: %w",
			m.Buyer, m.Seller, m.Team, ErrInvalidData)
	}
	return nil
}

// Storage is the single persistent record describing the current listing.
type Storage struct {
	ValidationPhrase     uint32
	AuthorizedWithdrawer ledger.Address
	VoteAccount          ledger.Address
	Cost                 uint64
	MediatableDate       uint32
	Purchase             *Purchase
	RequestMediationDate *uint32
	MediationDate        *uint32
	MediationShares      *MediationShares
	SecondaryItems       []StoredSecondaryItem
	Description          string
	ValidatorName        string
	ValidatorLogoURL     string
}

// Phase derives the lifecycle state from the record.
func (s *Storage) Phase() Phase {
	switch {
	case s.Purchase == nil:
		return PhaseUnsold
	case s.Purchase.DateFinalized == nil:
		return PhaseSoldPending
	default:
		return PhaseSettled
	}
}

// SecondaryItemsCost sums the item costs.
func (s *Storage) SecondaryItemsCost() uint64 {
	var sum uint64
	for _, item := range s.SecondaryItems {
		sum += item.Cost
	}
	return sum
}

// UnvalidatedCount counts items the buyer has not acknowledged yet.
func (s *Storage) UnvalidatedCount() int {
	n := 0
	for _, item := range s.SecondaryItems {
		if item.DateValidated == nil {
			n++
		}
	}
	return n
}

// recordPurchase transitions unsold → sold. The purchase is finalized
// immediately when there is nothing left to settle.
func (s *Storage) recordPurchase(buyer ledger.Address, now uint32) error {
	if s.Phase() != PhaseUnsold {
		return fmt.Errorf("validator is already bought: %w", ErrTooLate)
	}
	p := &Purchase{Buyer: buyer, Date: now}
	if len(s.SecondaryItems) == 0 {
		final := now
		p.DateFinalized = &final
	}
	s.Purchase = p
	return nil
}

// validateItem marks one item acknowledged. DateValidated is monotonic: once
// set it is never cleared.
func (s *Storage) validateItem(index int, now uint32) error {
	if index < 0 || index >= len(s.SecondaryItems) {
		return fmt.Errorf("item index %d out of range: %w", index, ErrInvalidData)
	}
	if s.SecondaryItems[index].DateValidated != nil {
		return fmt.Errorf("secondary item has already been validated: %w", ErrTooLate)
	}
	s.SecondaryItems[index].DateValidated = &now
	return nil
}

// requestMediation transitions into the dispute-requested state.
func (s *Storage) requestMediation(now uint32) error {
	if now < s.MediatableDate {
		return fmt.Errorf("mediation cannot be requested yet: %w", ErrTooEarly)
	}
	if s.RequestMediationDate != nil {
		return fmt.Errorf("mediation has already been requested: %w", ErrTooLate)
	}
	s.RequestMediationDate = &now
	return nil
}

// resolveMediation records the mediator's decision and finalizes the
// purchase. mediation_date can be set only while request_mediation_date is
// set and mediation_date itself is not.
func (s *Storage) resolveMediation(shares MediationShares, now uint32) error {
	if s.RequestMediationDate == nil {
		return fmt.Errorf("mediation has not been requested yet: %w", ErrTooEarly)
	}
	if s.MediationDate != nil {
		return fmt.Errorf("mediation has already taken place: %w", ErrTooLate)
	}
	if err := shares.VerifySum(); err != nil {
		return err
	}
	s.MediationDate = &now
	s.MediationShares = &shares
	return s.finalize(now)
}

// finalize stamps the purchase settled.
func (s *Storage) finalize(now uint32) error {
	if s.Purchase == nil {
		return fmt.Errorf("purchase must have taken place: %w", ErrOptionUnwrap)
	}
	s.Purchase.DateFinalized = &now
	return nil
}

// Space is the record's fixed allocation: the maximal encoding, so optional
// fields can be populated later without reallocating.
func (s *Storage) Space() int {
	space := 4 + ledger.AddressLength*2 + 8 + 4 // phrase, parties, cost, window
	space += 1 + ledger.AddressLength + 4 + 1 + 4 // purchase block
	space += (1 + 4) * 2                          // mediation timestamps
	space += 1 + 8*3                              // mediation shares
	space += 4
	for _, item := range s.SecondaryItems {
		space += 8 + 4 + len(item.Name) + 4 + len(item.Description) + 1 + 4
	}
	space += 4 + len(s.Description)
	space += 4 + len(s.ValidatorName)
	space += 4 + len(s.ValidatorLogoURL)
	return space
}

// Encode serializes the record into its Space-sized on-ledger form, zero
// padded past the compact encoding.
func (s *Storage) Encode() []byte {
	buf := make([]byte, 0, s.Space())

	buf = binary.LittleEndian.AppendUint32(buf, s.ValidationPhrase)
	buf = append(buf, s.AuthorizedWithdrawer.Bytes()...)
	buf = append(buf, s.VoteAccount.Bytes()...)
	buf = binary.LittleEndian.AppendUint64(buf, s.Cost)
	buf = binary.LittleEndian.AppendUint32(buf, s.MediatableDate)

	if s.Purchase != nil {
		buf = append(buf, 1)
		buf = append(buf, s.Purchase.Buyer.Bytes()...)
		buf = binary.LittleEndian.AppendUint32(buf, s.Purchase.Date)
		buf = appendOptionU32(buf, s.Purchase.DateFinalized)
	} else {
		buf = append(buf, 0)
	}

	buf = appendOptionU32(buf, s.RequestMediationDate)
	buf = appendOptionU32(buf, s.MediationDate)

	if s.MediationShares != nil {
		buf = append(buf, 1)
		buf = binary.LittleEndian.AppendUint64(buf, s.MediationShares.Buyer)
		buf = binary.LittleEndian.AppendUint64(buf, s.MediationShares.Seller)
		buf = binary.LittleEndian.AppendUint64(buf, s.MediationShares.Team)
	} else {
		buf = append(buf, 0)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.SecondaryItems)))
	for _, item := range s.SecondaryItems {
		buf = binary.LittleEndian.AppendUint64(buf, item.Cost)
		buf = appendString(buf, item.Name)
		buf = appendString(buf, item.Description)
		buf = appendOptionU32(buf, item.DateValidated)
	}

	buf = appendString(buf, s.Description)
	buf = appendString(buf, s.ValidatorName)
	buf = appendString(buf, s.ValidatorLogoURL)

	out := make([]byte, s.Space())
	copy(out, buf)
	return out
}

// DecodeStorage parses an on-ledger record, rejecting records whose
// validation phrase does not match.
func DecodeStorage(data []byte) (*Storage, error) {
	r := &byteReader{data: data}
	s := &Storage{}

	s.ValidationPhrase = r.u32()
	if s.ValidationPhrase != StorageValidationPhrase {
		return nil, fmt.Errorf("storage validation phrase mismatch: %w", ErrInvalidData)
	}
	r.address(&s.AuthorizedWithdrawer)
	r.address(&s.VoteAccount)
	s.Cost = r.u64()
	s.MediatableDate = r.u32()

	if r.option() {
		p := &Purchase{}
		r.address(&p.Buyer)
		p.Date = r.u32()
		p.DateFinalized = r.optionU32()
		s.Purchase = p
	}

	s.RequestMediationDate = r.optionU32()
	s.MediationDate = r.optionU32()

	if r.option() {
		s.MediationShares = &MediationShares{
			Buyer:  r.u64(),
			Seller: r.u64(),
			Team:   r.u64(),
		}
	}

	n := int(r.u32())
	if n > 0 {
		if max := len(data); n > max {
			return nil, fmt.Errorf("item count %d exceeds record size: %w", n, ErrInvalidData)
		}
		s.SecondaryItems = make([]StoredSecondaryItem, 0, n)
		for i := 0; i < n; i++ {
			item := StoredSecondaryItem{Cost: r.u64()}
			item.Name = r.str()
			item.Description = r.str()
			item.DateValidated = r.optionU32()
			s.SecondaryItems = append(s.SecondaryItems, item)
		}
	}

	s.Description = r.str()
	s.ValidatorName = r.str()
	s.ValidatorLogoURL = r.str()

	if r.err != nil {
		return nil, fmt.Errorf("decoding storage record: %w", r.err)
	}
	return s, nil
}

func appendOptionU32(buf []byte, v *uint32) []byte {
	if v == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return binary.LittleEndian.AppendUint32(buf, *v)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// byteReader reads the little-endian length-prefixed layout, latching the
// first error.
type byteReader struct {
	data []byte
	pos  int
	err  error
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("record truncated at byte %d: %w", r.pos, ErrInvalidData)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *byteReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *byteReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *byteReader) option() bool {
	b := r.take(1)
	return b != nil && b[0] == 1
}

func (r *byteReader) optionU32() *uint32 {
	if !r.option() {
		return nil
	}
	v := r.u32()
	return &v
}

func (r *byteReader) address(a *ledger.Address) {
	b := r.take(ledger.AddressLength)
	if b != nil {
		copy(a[:], b)
	}
}

func (r *byteReader) str() string {
	n := int(r.u32())
	if r.err == nil && n > len(r.data)-r.pos {
		r.err = fmt.Errorf("string length %d exceeds record: %w", n, ErrInvalidData)
		return ""
	}
	b := r.take(n)
	return string(b)
}

// unixTimestamp narrows ledger time to the record's u32 representation.
func unixTimestamp(t time.Time) (uint32, error) {
	sec := t.Unix()
	if sec < 0 || sec > math.MaxUint32 {
		return 0, fmt.Errorf("timestamp %d outside the record range: %w", sec, ledger.ErrBeyondBounds)
	}
	return uint32(sec), nil
}
