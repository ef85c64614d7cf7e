package justify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
)

// Provider generates remediation text for a violation profile. The LLM
// behind it is a black box: the engine only cares that some text comes
// back, and the service validates its shape.
type Provider interface {
	Generate(ctx context.Context, prompt string, profile *access.UserViolationProfile) (string, error)
	ModelIdentifier() string
}

// MockProvider produces a deterministic, profile-aware response without
// calling any model. Used for tests, demos, and as the fallback when the
// configured provider misbehaves.
type MockProvider struct{}

func (MockProvider) ModelIdentifier() string {
	return "mock-llm-v1-dynamic"
}

func (MockProvider) Generate(_ context.Context, _ string, profile *access.UserViolationProfile) (string, error) {
	if profile == nil {
		return marshalResponse(providerResponse{
			Risk:      "No profile provided.",
			Action:    "Investigate.",
			Rationale: "Profile was missing from context.",
		})
	}

	policyIDs := make([]string, 0, len(profile.ViolatedPolicies))
	for _, p := range profile.ViolatedPolicies {
		policyIDs = append(policyIDs, p.PolicyID)
	}

	roleToRevoke := "a_conflicting_role"
	if len(profile.ConflictingRoleSet) > 0 {
		roleToRevoke = profile.ConflictingRoleSet[0]
	}

	return marshalResponse(providerResponse{
		Risk: fmt.Sprintf("User in '%s' violates %d policies.",
			profile.User.Department, len(profile.ViolatedPolicies)),
		Action: fmt.Sprintf("Revoke '%s' role.", roleToRevoke),
		Rationale: fmt.Sprintf("This action resolves policy violations: %s.",
			strings.Join(policyIDs, ", ")),
	})
}

type providerResponse struct {
	Risk      string `json:"risk"`
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

func marshalResponse(resp providerResponse) (string, error) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
