package tablecache

import "fmt"

// ValidateMode reports whether a new handle with the given mode may be
// created under scope.
//
// Every mode is allowed under [ProcessWide]. Under [PerThread] registries
// cannot see each other's writers, so two workers could each believe they own
// a table exclusively; only [ReadOnly] handles may be originated there. An
// in-place upgrade of a handle the worker already holds is not a creation and
// is not checked.
func ValidateMode(scope Scope, mode LockMode) error {
	if !mode.valid() {
		return fmt.Errorf("lock mode %s: %w", mode, ErrInvalidInput)
	}

	switch scope {
	case ProcessWide:
		return nil
	case PerThread:
		if mode == ReadWrite {
			return fmt.Errorf("%w: %s handles cannot be originated under the %s scope", ErrPolicyViolation, mode, scope)
		}

		return nil
	default:
		return fmt.Errorf("scope %s: %w", scope, ErrInvalidInput)
	}
}
