package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToxicPolicy(t *testing.T) {
	tests := []struct {
		name      string
		roles     []string
		wantRoles []string
		wantErr   bool
	}{
		{
			name:      "two distinct roles",
			roles:     []string{"PaymentsAdmin", "TradingDesk"},
			wantRoles: []string{"PaymentsAdmin", "TradingDesk"},
		},
		{
			name:      "duplicates collapse preserving first-seen order",
			roles:     []string{"TradingDesk", "PaymentsAdmin", "TradingDesk"},
			wantRoles: []string{"TradingDesk", "PaymentsAdmin"},
		},
		{
			name:    "duplicates collapsing below two roles",
			roles:   []string{"RoleA", "RoleA"},
			wantErr: true,
		},
		{
			name:    "single role",
			roles:   []string{"RoleA"},
			wantErr: true,
		},
		{
			name:    "no roles",
			roles:   nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := NewToxicPolicy("P1", "desc", tt.roles)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "P1", policy.PolicyID)
			assert.Equal(t, tt.wantRoles, policy.Roles)
		})
	}
}

func TestToxicPolicyMatchedBy(t *testing.T) {
	policy := &ToxicPolicy{PolicyID: "P1", Roles: []string{"A", "B"}}

	tests := []struct {
		name  string
		roles []string
		want  bool
	}{
		{name: "exact match", roles: []string{"A", "B"}, want: true},
		{name: "superset matches", roles: []string{"A", "B", "C"}, want: true},
		{name: "partial overlap does not match", roles: []string{"A", "C"}, want: false},
		{name: "no roles", roles: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userRoles := make(map[string]struct{})
			for _, r := range tt.roles {
				userRoles[r] = struct{}{}
			}
			assert.Equal(t, tt.want, policy.MatchedBy(userRoles))
		})
	}
}

func TestComputePoliciesHash(t *testing.T) {
	p1 := &ToxicPolicy{PolicyID: "P1", Description: "payments vs trading", Roles: []string{"PaymentsAdmin", "TradingDesk"}}
	p2 := &ToxicPolicy{PolicyID: "P2", Description: "deploy vs approve", Roles: []string{"Deployer", "Approver"}}

	t.Run("format", func(t *testing.T) {
		hash := ComputePoliciesHash([]*ToxicPolicy{p1, p2})
		assert.Len(t, hash, 16)
		assert.Regexp(t, "^[0-9a-f]{16}$", hash)
	})

	t.Run("invariant to policy order", func(t *testing.T) {
		assert.Equal(t,
			ComputePoliciesHash([]*ToxicPolicy{p1, p2}),
			ComputePoliciesHash([]*ToxicPolicy{p2, p1}))
	})

	t.Run("invariant to role order within a policy", func(t *testing.T) {
		reversed := &ToxicPolicy{PolicyID: "P1", Description: "payments vs trading", Roles: []string{"TradingDesk", "PaymentsAdmin"}}
		assert.Equal(t,
			ComputePoliciesHash([]*ToxicPolicy{p1}),
			ComputePoliciesHash([]*ToxicPolicy{reversed}))
	})

	t.Run("sensitive to content changes", func(t *testing.T) {
		changed := &ToxicPolicy{PolicyID: "P1", Description: "changed", Roles: []string{"PaymentsAdmin", "TradingDesk"}}
		assert.NotEqual(t,
			ComputePoliciesHash([]*ToxicPolicy{p1}),
			ComputePoliciesHash([]*ToxicPolicy{changed}))
	})

	t.Run("empty set hashes consistently", func(t *testing.T) {
		assert.Equal(t, ComputePoliciesHash(nil), ComputePoliciesHash([]*ToxicPolicy{}))
		assert.Len(t, ComputePoliciesHash(nil), 16)
	})

	t.Run("does not mutate input ordering", func(t *testing.T) {
		policies := []*ToxicPolicy{p2, p1}
		ComputePoliciesHash(policies)
		assert.Equal(t, "P2", policies[0].PolicyID)
		assert.Equal(t, "P1", policies[1].PolicyID)
	})
}
