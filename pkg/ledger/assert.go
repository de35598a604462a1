package ledger

import "fmt"

// AssertKeyMatch fails with ErrAddressMismatch unless got and want are equal.
func AssertKeyMatch(got, want Address) error {
	if got != want {
		return fmt.Errorf("left: %s, right: %s: %w", got, want, ErrAddressMismatch)
	}
	return nil
}

// AssertOwner fails unless the account is owned by the given program.
func AssertOwner(acct *Account, owner Address) error {
	if err := AssertKeyMatch(acct.Owner, owner); err != nil {
		return fmt.Errorf("owner assertion for %s: %w", acct.Address, err)
	}
	return nil
}

// AssertSigner fails with ErrMissingRequiredSignature unless the supplied
// account meta carries a signature.
func AssertSigner(meta AccountMeta) error {
	if !meta.IsSigner {
		return fmt.Errorf("account %s: %w", meta.Address, ErrMissingRequiredSignature)
	}
	return nil
}
