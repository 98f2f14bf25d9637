package experiment

import (
	"fmt"
	"strings"
)

// MaxNameLength bounds experiment and variant display names.
const MaxNameLength = 255

// ValidateName enforces the rules for an experiment's human-readable name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalidArgument, MaxNameLength)
	}
	return nil
}

// ValidateVariants checks a variant list before it is written.
// Writes are stricter than bucketing: a list that would make assignment fail is rejected up front.
func ValidateVariants(variants []Variant) error {
	if len(variants) == 0 {
		return fmt.Errorf("%w: at least one variant is required", ErrInvalidArgument)
	}

	seen := make(map[string]struct{}, len(variants))
	total := 0
	for i, v := range variants {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("%w: variant %d has an empty id", ErrInvalidArgument, i)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate variant id %q", ErrInvalidArgument, v.ID)
		}
		seen[v.ID] = struct{}{}

		if len(v.Name) > MaxNameLength {
			return fmt.Errorf("%w: variant %q name is too long", ErrInvalidArgument, v.ID)
		}
		if v.Weight < 0 {
			return fmt.Errorf("%w: variant %q has a negative weight", ErrInvalidArgument, v.ID)
		}
		total += v.Weight
	}

	if total <= 0 {
		return fmt.Errorf("%w: total variant weight must be positive", ErrInvalidArgument)
	}
	return nil
}
