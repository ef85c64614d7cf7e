package detection

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
	apperrors "github.com/davidleathers/sod-sentinel/internal/errors"
)

// SimulationResult is the outcome of a what-if role removal.
type SimulationResult struct {
	UserID              string   `json:"user_id"`
	RoleRemoved         string   `json:"role_removed"`
	Resolved            bool     `json:"resolved"`
	ViolationsRemaining []string `json:"violations_remaining"`
	Message             string   `json:"message"`
}

// SimulateRoleRemoval re-runs detection for a single user as if the
// given role had been revoked. The input state is deep-copied first;
// the live state referenced by any existing profile is never touched.
func (e *Engine) SimulateRoleRemoval(state *access.UserState, role string) (*SimulationResult, error) {
	if _, ok := state.ActiveRoles[role]; !ok {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidInput,
			fmt.Sprintf("role %s not active for user %s", role, state.UserID))
	}

	simulated := state.Clone()
	delete(simulated.ActiveRoles, role)

	profiles := e.DetectViolations(map[string]*access.UserState{
		state.UserID: simulated,
	})

	remaining := []string{}
	if profile, ok := profiles[state.UserID]; ok {
		for _, p := range profile.ViolatedPolicies {
			remaining = append(remaining, p.PolicyID)
		}
	}

	resolved := len(remaining) == 0
	var message string
	if resolved {
		message = fmt.Sprintf("All violations for this user would be resolved by removing %s.", role)
	} else {
		message = fmt.Sprintf("After removing %s, %d violation(s) would remain.", role, len(remaining))
	}

	e.logger.Info("simulation complete",
		zap.String("user_id", state.UserID),
		zap.String("role_removed", role),
		zap.Bool("resolved", resolved))

	return &SimulationResult{
		UserID:              state.UserID,
		RoleRemoved:         role,
		Resolved:            resolved,
		ViolationsRemaining: remaining,
		Message:             message,
	}, nil
}
