package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeEmail trims and case-folds an address so uniqueness ignores case.
// Casers are stateful, so each call builds its own.
func normalizeEmail(raw string) (string, error) {
	email := cases.Fold().String(strings.TrimSpace(raw))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", ErrInvalidEmail
	}
	if strings.ContainsAny(email, " \t\r\n") || strings.Count(email, "@") != 1 {
		return "", ErrInvalidEmail
	}
	if !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// normalizeDisplayName composes the name to NFC and collapses inner whitespace.
func normalizeDisplayName(raw string) (string, error) {
	name := strings.Join(strings.Fields(norm.NFC.String(raw)), " ")
	if name == "" {
		return "", ErrDisplayNameRequired
	}
	return name, nil
}

func parseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleGuest:
		return RoleGuest, nil
	case RoleHost:
		return RoleHost, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// canManageMembers reports whether the role may add users to conversations
// the actor does not belong to.
func (r Role) canManageMembers() bool {
	return r == RoleHost || r == RoleAdmin
}
