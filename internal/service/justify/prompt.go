package justify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
)

// BuildRemediationPrompt renders the remediation prompt for one
// violation profile. Every free-text field embedded here has already
// been sanitized at ingestion time.
func BuildRemediationPrompt(profile *access.UserViolationProfile) string {
	roleNames := make([]string, 0, len(profile.User.ActiveRoles))
	for name := range profile.User.ActiveRoles {
		roleNames = append(roleNames, name)
	}
	sort.Strings(roleNames)

	var roles strings.Builder
	for _, name := range roleNames {
		ra := profile.User.ActiveRoles[name]
		fmt.Fprintf(&roles, "- '%s' (from '%s', granted: %s)\n",
			ra.Role, ra.SourceSystem, ra.GrantedAt.Format("2006-01-02"))
	}

	var violations strings.Builder
	for _, p := range profile.ViolatedPolicies {
		fmt.Fprintf(&violations, "- Policy %s (%s): Requires roles [%s]\n",
			p.PolicyID, p.Description, strings.Join(p.Roles, ", "))
	}

	return fmt.Sprintf(`You are an identity governance analyst reviewing a segregation-of-duties finding.

## User context
Department: %s

## Active roles
%s
## Violated policies
%s
## Task
Recommend the single role revocation that resolves the most policy violations
with the least business disruption. Respond with a JSON object containing
exactly these keys:
{"risk": "<one-sentence risk summary>", "action": "<the revocation to perform>", "rationale": "<why this choice>"}
`, profile.User.Department, roles.String(), violations.String())
}
