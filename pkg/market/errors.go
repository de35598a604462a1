package market

import "errors"

// Error kinds of the protocol. Every one aborts the whole operation with no
// partial mutation; callers resubmit with corrected accounts or arguments.
// Address/ownership/signature kinds live in pkg/ledger next to the assertion
// primitives that raise them.
var (
	// ErrTooEarly marks a time- or sequence-gated precondition not yet met.
	ErrTooEarly = errors.New("too early")

	// ErrTooLate marks an operation attempted after its window closed or a
	// state it targets was already consumed.
	ErrTooLate = errors.New("too late")

	// ErrInvalidData marks malformed input.
	ErrInvalidData = errors.New("invalid data")

	// ErrNotAuthorized marks a caller outside the allowed identity set.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrOptionUnwrap marks an expected-present optional ledger field that
	// was absent.
	ErrOptionUnwrap = errors.New("expected value is absent")
)
