package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/davidleathers/sod-sentinel/internal/errors"
)

func TestSimulateRoleRemoval(t *testing.T) {
	t.Run("removal resolves all violations", func(t *testing.T) {
		engine := newTestEngine(t, mustPolicy(t, "P1", "PaymentsAdmin", "TradingDesk"))
		state := userWithRoles("u1", "PaymentsAdmin", "TradingDesk")

		result, err := engine.SimulateRoleRemoval(state, "PaymentsAdmin")
		require.NoError(t, err)

		assert.True(t, result.Resolved)
		assert.Empty(t, result.ViolationsRemaining)
		assert.Equal(t, "PaymentsAdmin", result.RoleRemoved)
		assert.Equal(t,
			"All violations for this user would be resolved by removing PaymentsAdmin.",
			result.Message)
	})

	t.Run("removal leaves other violations standing", func(t *testing.T) {
		engine := newTestEngine(t,
			mustPolicy(t, "P1", "PaymentsAdmin", "TradingDesk"),
			mustPolicy(t, "P2", "TradingDesk", "Approver"),
		)
		state := userWithRoles("u1", "PaymentsAdmin", "TradingDesk", "Approver")

		result, err := engine.SimulateRoleRemoval(state, "PaymentsAdmin")
		require.NoError(t, err)

		assert.False(t, result.Resolved)
		assert.Equal(t, []string{"P2"}, result.ViolationsRemaining)
		assert.Equal(t, "After removing PaymentsAdmin, 1 violation(s) would remain.", result.Message)
	})

	t.Run("input state is never mutated", func(t *testing.T) {
		engine := newTestEngine(t, mustPolicy(t, "P1", "A", "B"))
		state := userWithRoles("u1", "A", "B")

		_, err := engine.SimulateRoleRemoval(state, "A")
		require.NoError(t, err)

		assert.Len(t, state.ActiveRoles, 2)
		assert.Contains(t, state.ActiveRoles, "A")
	})

	t.Run("role not held by user", func(t *testing.T) {
		engine := newTestEngine(t, mustPolicy(t, "P1", "A", "B"))
		state := userWithRoles("u1", "A", "B")

		result, err := engine.SimulateRoleRemoval(state, "C")
		require.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, apperrors.IsValidation(err))
	})
}
