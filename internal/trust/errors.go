package trust

import (
	"fmt"

	"github.com/roder/stroma/internal/errs"
)

// errAdmission wraps a reason string as an InvariantViolation so
// callers can use errors.Is(err, errs.ErrInvariantViolation) uniformly
// whether the rejection came from admission, a vouch/flag insertion, or
// a merge.
func errAdmission(reason string) error {
	return fmt.Errorf("trust: admission refused (%s): %w", reason, errs.ErrInvariantViolation)
}

func errInvariant(reason string) error {
	return fmt.Errorf("trust: invariant violated (%s): %w", reason, errs.ErrInvariantViolation)
}
