package chat

import (
	"fmt"
	"regexp"
)

// Externally supplied thread/identity identifiers must match a restricted
// token grammar before they reach any lookup. This keeps URLs, path
// separators and injection noise out of storage.
var identRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidIdent reports whether s is an acceptable wa_id / identity token.
func ValidIdent(s string) bool {
	return identRE.MatchString(s)
}

// ValidateIdent fails fast with ErrValidation for malformed identifiers.
func ValidateIdent(field, s string) error {
	if s == "" {
		return fmt.Errorf("%w: missing %s", ErrValidation, field)
	}
	if !ValidIdent(s) {
		return fmt.Errorf("%w: malformed %s", ErrValidation, field)
	}
	return nil
}
