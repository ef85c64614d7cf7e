package access

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// SeverityHigh is the only severity the engine emits; any toxic
	// combination is treated as a high-risk finding.
	SeverityHigh = "high"

	// SuggestedActionRevoke is the engine-level suggestion. Picking which
	// role to revoke is deferred to the justification layer or the
	// what-if simulation.
	SuggestedActionRevoke = "revoke one role"
)

// findingNamespace is the fixed UUIDv5 namespace for finding IDs. It is a
// design constant: changing it would break every externally persisted
// finding reference.
var findingNamespace = uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

// GenerateFindingID derives a stable, user-centric finding identifier.
// The same user ID always yields the same finding ID, within a run and
// across process restarts, so re-running detection after a policy change
// never re-labels a user who was already flagged.
func GenerateFindingID(userID string) string {
	id := uuid.NewSHA1(findingNamespace, []byte("user:"+userID))
	hexDigits := strings.ReplaceAll(id.String(), "-", "")
	return "FINDING-" + strings.ToUpper(hexDigits[:12])
}

// UserViolationProfile aggregates every policy one user violates at one
// point in time. Profiles are created fresh on each detection run and
// never mutated afterwards; the embedded UserState is borrowed, not
// copied.
type UserViolationProfile struct {
	FindingID          string         `json:"finding_id"`
	User               *UserState     `json:"user"`
	ViolatedPolicies   []*ToxicPolicy `json:"violated_policies"`
	ConflictingRoleSet []string       `json:"conflicting_role_set"`

	Severity        string `json:"severity"`
	Reason          string `json:"reason"`
	SuggestedAction string `json:"suggested_action"`
}

// NewUserViolationProfile builds the single aggregated profile for a
// user from the policies they violate. ViolatedPolicies keeps the
// caller's (policy-set) iteration order; the reason string sorts policy
// IDs lexicographically for determinism, and the conflicting role set is
// the sorted union of all matched policies' roles.
func NewUserViolationProfile(user *UserState, violated []*ToxicPolicy) *UserViolationProfile {
	roleUnion := make(map[string]struct{})
	policyIDs := make([]string, 0, len(violated))
	for _, p := range violated {
		policyIDs = append(policyIDs, p.PolicyID)
		for _, r := range p.Roles {
			roleUnion[r] = struct{}{}
		}
	}
	sort.Strings(policyIDs)

	conflicting := make([]string, 0, len(roleUnion))
	for r := range roleUnion {
		conflicting = append(conflicting, r)
	}
	sort.Strings(conflicting)

	return &UserViolationProfile{
		FindingID:          GenerateFindingID(user.UserID),
		User:               user,
		ViolatedPolicies:   violated,
		ConflictingRoleSet: conflicting,
		Severity:           SeverityHigh,
		Reason: fmt.Sprintf("User violates %d policies: %s",
			len(violated), strings.Join(policyIDs, ", ")),
		SuggestedAction: SuggestedActionRevoke,
	}
}
