package ledger

// accountStorageOverhead is the per-account bookkeeping charge added to the
// data length when computing rent.
const accountStorageOverhead = 128

// Rent prices account storage. An account funded to MinimumBalance for its
// space is rent-exempt and lives until explicitly closed.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent returns the deployment's standard rent parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: 3480,
		ExemptionYears:      2,
	}
}

// MinimumBalance is the smallest balance a record of the given space may hold
// while remaining rent-exempt.
func (r Rent) MinimumBalance(space int) uint64 {
	return (accountStorageOverhead + uint64(space)) * r.LamportsPerByteYear * r.ExemptionYears
}
