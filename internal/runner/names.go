package runner

import (
	"fmt"
	"regexp"
)

// safeNameRegex matches role and service unit names that are safe to place
// into a remote command string. Anything else is rejected before
// interpolation.
var safeNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.@-]{0,62}$`)

// ValidateName rejects role or service names that could carry shell
// metacharacters into a remote command.
func ValidateName(name string) error {
	if !safeNameRegex.MatchString(name) {
		return fmt.Errorf("unsafe name %q", name)
	}
	return nil
}

// ValidateNames validates every name in the list.
func ValidateNames(names []string) error {
	for _, n := range names {
		if err := ValidateName(n); err != nil {
			return err
		}
	}
	return nil
}
