package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is a per-event role. Roles form the total order OWNER > EDITOR > VIEWER.
type Role string

const (
	RoleViewer Role = "VIEWER"
	RoleEditor Role = "EDITOR"
	RoleOwner  Role = "OWNER"
)

// ParseRole converts a wire string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleViewer:
		return RoleViewer, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleOwner:
		return RoleOwner, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Rank orders roles; unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleOwner:
		return 3
	}
	return 0
}

// Grants reports whether the role carries capability c.
func (r Role) Grants(c Capability) bool {
	switch r {
	case RoleOwner:
		return c == CapView || c == CapEdit || c == CapManage
	case RoleEditor:
		return c == CapView || c == CapEdit
	case RoleViewer:
		return c == CapView
	}
	return false
}

// Capability is an atomic right on an event, ordered VIEW <= EDIT <= MANAGE.
type Capability int

const (
	CapView Capability = iota + 1
	CapEdit
	CapManage
)

func (c Capability) String() string {
	switch c {
	case CapView:
		return "VIEW"
	case CapEdit:
		return "EDIT"
	case CapManage:
		return "MANAGE"
	}
	return fmt.Sprintf("Capability(%d)", int(c))
}

// Permission binds a user to an event with a role. Unique per (event, user).
type Permission struct {
	EventID   uuid.UUID
	UserID    uuid.UUID
	Role      Role
	CreatedAt time.Time
}
