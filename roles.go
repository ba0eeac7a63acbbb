package accounts

import "strings"

// roleRank orders roles from least to most privileged.
var roleRank = map[Role]int{
	RoleEmployee:       1,
	RoleProjectManager: 2,
	RoleAdmin:          3,
	RoleGeneralManager: 4,
}

// IsValidRole checks if the role is one of the predefined valid roles.
func IsValidRole(r Role) bool {
	_, ok := roleRank[strings.ToUpper(r)]
	return ok
}

// ParseRole normalizes a role string, reporting whether it is known.
func ParseRole(s string) (Role, bool) {
	r := strings.ToUpper(strings.TrimSpace(s))
	if _, ok := roleRank[r]; ok {
		return r, true
	}
	return "", false
}

// RoleAtLeast reports whether role meets or exceeds the minimum role in the
// privilege hierarchy. Unknown roles never satisfy any minimum.
func RoleAtLeast(role, minRole Role) bool {
	r, ok := roleRank[strings.ToUpper(role)]
	if !ok {
		return false
	}
	m, ok := roleRank[strings.ToUpper(minRole)]
	if !ok {
		return false
	}
	return r >= m
}

// HighestRole returns the most privileged role in the set, or RoleEmployee
// when the set is empty.
func HighestRole(roles []Role) Role {
	best := RoleEmployee
	bestRank := 0
	for _, r := range roles {
		if rank, ok := roleRank[strings.ToUpper(r)]; ok && rank > bestRank {
			best = strings.ToUpper(r)
			bestRank = rank
		}
	}
	return best
}

// ValidateRoles rejects role sets containing unknown entries.
func ValidateRoles(roles []Role) error {
	for _, r := range roles {
		if !IsValidRole(r) {
			return ErrUnknownRole.WithMetadata(map[string]any{
				"role": r,
			})
		}
	}
	return nil
}
