package entity

import (
	"fmt"
	"strings"

	"github.com/garyjia/access-approval/internal/domain/workflow"
)

// Kind identifies what a request asks for.
type Kind string

const (
	KindTableAccess  Kind = "Table request"
	KindColumnUnhash Kind = "Column request"
	KindUserCreation Kind = "User Creation"
)

// Role is a named approval function on a request.
type Role string

const (
	RoleRM      Role = "rm"
	RoleData    Role = "data"
	RoleManager Role = "manager"
)

var kindRoles = map[Kind][]Role{
	KindTableAccess:  {RoleRM, RoleData},
	KindColumnUnhash: {RoleRM, RoleData},
	KindUserCreation: {RoleManager},
}

// ParseKind accepts the stored REQUEST_TYPE values and their short forms.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table request", "table", "table_access":
		return KindTableAccess, nil
	case "column request", "column", "column_unhash", "unhash":
		return KindColumnUnhash, nil
	case "user creation", "user", "user_creation":
		return KindUserCreation, nil
	default:
		return "", fmt.Errorf("%w: unknown request kind %q", workflow.ErrInvalidRequest, s)
	}
}

// Roles returns the approval roles applicable to the kind, in display order.
func (k Kind) Roles() []Role {
	return append([]Role(nil), kindRoles[k]...)
}

// Applies reports whether role takes part in decisions for this kind.
func (k Kind) Applies(role Role) bool {
	for _, r := range kindRoles[k] {
		if r == role {
			return true
		}
	}
	return false
}

// IsAccess reports whether the kind grants data access (table or column).
func (k Kind) IsAccess() bool {
	return k == KindTableAccess || k == KindColumnUnhash
}

// ForbidsSelfApproval reports whether the requester is barred from deciding
// their own request.
func (k Kind) ForbidsSelfApproval() bool {
	return k == KindUserCreation
}

func (k Kind) String() string {
	return string(k)
}

// ParseRole maps a deep-link "type" token to a role. The legacy "user" token
// used by user-creation links means Manager.
func ParseRole(token string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "rm":
		return RoleRM, nil
	case "data":
		return RoleData, nil
	case "manager", "user":
		return RoleManager, nil
	default:
		return "", fmt.Errorf("%w: unknown approver type %q", workflow.ErrInvalidRequest, token)
	}
}

// Label is the human-facing role name.
func (r Role) Label() string {
	switch r {
	case RoleRM:
		return "RM"
	case RoleData:
		return "Data"
	case RoleManager:
		return "Manager"
	default:
		return string(r)
	}
}

func (r Role) String() string {
	return string(r)
}

// Grantee values for access requests
const (
	GranteeSelf        = "SELF"
	GranteeGenericUser = "GENERIC_USER"
	GranteeGenericRole = "GENERIC_ROLE"
)

// Shared status values for access requests
const (
	SharedStatusShared    = "SHARED"
	SharedStatusNotShared = "NOT_SHARED"
)

// History action types
const (
	ActionCreate  = "CREATE"
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
)
