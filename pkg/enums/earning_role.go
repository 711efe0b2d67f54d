package enums

import "fmt"

// EarningRole identifies who an earning row pays out to.
type EarningRole string

const (
	EarningRoleAgent  EarningRole = "agent"
	EarningRoleSeller EarningRole = "seller"
)

var validEarningRoles = []EarningRole{
	EarningRoleAgent,
	EarningRoleSeller,
}

// String implements fmt.Stringer.
func (e EarningRole) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EarningRole.
func (e EarningRole) IsValid() bool {
	for _, candidate := range validEarningRoles {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEarningRole converts raw input into an EarningRole.
func ParseEarningRole(value string) (EarningRole, error) {
	for _, candidate := range validEarningRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid earning role %q", value)
}
