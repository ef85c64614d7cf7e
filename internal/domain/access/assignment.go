package access

import (
	"fmt"
	"time"

	"github.com/davidleathers/sod-sentinel/internal/domain/values"
)

// AssignmentStatus is the lifecycle status carried by an assignment row.
type AssignmentStatus string

const (
	StatusActive   AssignmentStatus = "active"
	StatusInactive AssignmentStatus = "inactive"
)

// ParseAssignmentStatus matches the literal status values accepted on
// ingestion. Anything else is a row-level validation failure.
func ParseAssignmentStatus(s string) (AssignmentStatus, error) {
	switch AssignmentStatus(s) {
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	default:
		return "", fmt.Errorf("invalid status %q: must be one of [active, inactive]", s)
	}
}

// RoleAssignment is a single role grant with its temporal and source
// information. Immutable once created; owned by exactly one UserState.
type RoleAssignment struct {
	Role         string    `json:"role"`
	SourceSystem string    `json:"source_system"`
	GrantedAt    time.Time `json:"granted_at"`
}

// UserState is the resolved, authoritative state for one user within a
// single ingestion batch.
//
// Status is a one-way latch: any inactive row marks the user INACTIVE
// permanently, regardless of row order or what later rows say. This is
// deliberate (most-restrictive-wins) and must not be "fixed" to follow
// the latest row.
type UserState struct {
	UserID     string           `json:"user_id"`
	Name       string           `json:"name"`
	Email      values.Email     `json:"email"`
	Department string           `json:"department"`
	Status     AssignmentStatus `json:"status"`

	// ActiveRoles is keyed by sanitized role name; duplicate grants of
	// the same role collapse to the most recently processed row.
	ActiveRoles map[string]RoleAssignment `json:"active_roles"`

	SourceSystems []string `json:"source_systems"`
}

// Eligible reports whether the user participates in violation scanning.
// Inactive and single-role users are excluded but retained for lookup
// and simulation.
func (u *UserState) Eligible() bool {
	return u.Status == StatusActive && len(u.ActiveRoles) > 1
}

// RoleNames returns the set of active role names.
func (u *UserState) RoleNames() map[string]struct{} {
	names := make(map[string]struct{}, len(u.ActiveRoles))
	for name := range u.ActiveRoles {
		names[name] = struct{}{}
	}
	return names
}

// Clone returns a deep copy of the state. Callers must clone before
// mutating a UserState referenced by a live violation profile, e.g. for
// what-if simulation.
func (u *UserState) Clone() *UserState {
	roles := make(map[string]RoleAssignment, len(u.ActiveRoles))
	for name, ra := range u.ActiveRoles {
		roles[name] = ra
	}
	systems := make([]string, len(u.SourceSystems))
	copy(systems, u.SourceSystems)

	return &UserState{
		UserID:        u.UserID,
		Name:          u.Name,
		Email:         u.Email,
		Department:    u.Department,
		Status:        u.Status,
		ActiveRoles:   roles,
		SourceSystems: systems,
	}
}
