package access

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ToxicPolicy names one minimal set of roles that must never all be held
// by the same active user.
type ToxicPolicy struct {
	PolicyID    string   `json:"policy_id"`
	Description string   `json:"description"`
	Roles       []string `json:"roles"`
}

// NewToxicPolicy builds a policy from extracted role tokens, deduplicating
// them while preserving first-seen order. Policies need at least two
// distinct roles to be meaningful.
func NewToxicPolicy(policyID, description string, roles []string) (*ToxicPolicy, error) {
	seen := make(map[string]struct{}, len(roles))
	deduped := make([]string, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		deduped = append(deduped, r)
	}

	if len(deduped) < 2 {
		return nil, fmt.Errorf("policy %s must contain at least two distinct roles", policyID)
	}

	return &ToxicPolicy{
		PolicyID:    policyID,
		Description: description,
		Roles:       deduped,
	}, nil
}

// RoleSet returns the policy's roles as a set for containment checks.
func (p *ToxicPolicy) RoleSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Roles))
	for _, r := range p.Roles {
		set[r] = struct{}{}
	}
	return set
}

// MatchedBy reports whether every role in the policy is held by the user.
func (p *ToxicPolicy) MatchedBy(userRoles map[string]struct{}) bool {
	for _, r := range p.Roles {
		if _, ok := userRoles[r]; !ok {
			return false
		}
	}
	return true
}

// policyDigest is the canonical serialization unit for the policy-set
// hash. Fields are declared alphabetically so the JSON encoding has
// sorted keys.
type policyDigest struct {
	Description string   `json:"description"`
	PolicyID    string   `json:"policy_id"`
	Roles       []string `json:"roles"`
}

// ComputePoliciesHash derives a short integrity hash over a policy set.
// The hash is invariant to the order of the input list and to the
// internal ordering of each policy's roles, so an audit log can prove
// exactly which policy set produced a batch of findings.
func ComputePoliciesHash(policies []*ToxicPolicy) string {
	sorted := make([]*ToxicPolicy, len(policies))
	copy(sorted, policies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PolicyID < sorted[j].PolicyID
	})

	digests := make([]policyDigest, 0, len(sorted))
	for _, p := range sorted {
		roles := make([]string, len(p.Roles))
		copy(roles, p.Roles)
		sort.Strings(roles)
		digests = append(digests, policyDigest{
			Description: p.Description,
			PolicyID:    p.PolicyID,
			Roles:       roles,
		})
	}

	encoded, err := json.Marshal(digests)
	if err != nil {
		// Marshaling a slice of plain strings cannot fail.
		panic(fmt.Sprintf("encoding policy digests: %v", err))
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:16]
}
