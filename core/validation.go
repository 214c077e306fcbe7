package core

import (
	"fmt"
	"strings"
)

// ValidateRole checks that role is a known speaker.
func ValidateRole(role Role) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return nil
}

// ValidateTurn validates a turn before it is appended to a session.
//
// Validation rules:
//   - Role must be user or assistant
//   - Text must contain non-whitespace characters
//   - Citations are only allowed on assistant turns
func ValidateTurn(turn *Turn) error {
	if turn == nil {
		return fmt.Errorf("%w: turn is nil", ErrValidation)
	}
	if err := ValidateRole(turn.Role); err != nil {
		return err
	}
	if strings.TrimSpace(turn.Text) == "" {
		return ErrEmptyText
	}
	if turn.Role == RoleUser && len(turn.Citations) > 0 {
		return fmt.Errorf("%w: user turns cannot carry citations", ErrValidation)
	}
	return nil
}

// ValidateDocumentIDs normalizes a set of document ids for comparison.
// Duplicates are removed; fewer than two distinct ids is an error.
func ValidateDocumentIDs(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("%w: empty document id", ErrValidation)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) < 2 {
		return nil, ErrTooFewDocuments
	}
	return unique, nil
}
