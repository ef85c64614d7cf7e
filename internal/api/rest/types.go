package rest

import (
	"time"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
	"github.com/davidleathers/sod-sentinel/internal/service/ingestion"
	"github.com/davidleathers/sod-sentinel/internal/service/justify"
)

// FindingResponse pairs a violation profile with its justification. This
// is the unit streamed to clients and cached for the evidence log.
type FindingResponse struct {
	Profile       *access.UserViolationProfile `json:"profile"`
	Justification *justify.Justification       `json:"justification,omitempty"`
}

// DecisionRequest records a reviewer's decision for one flagged user.
type DecisionRequest struct {
	UserID        string    `json:"user_id" validate:"required"`
	Decision      string    `json:"decision" validate:"required,oneof=accept_risk revoke_role investigate"`
	RolesToRevoke []string  `json:"roles_to_revoke"`
	Notes         string    `json:"notes,omitempty"`
	DecidedBy     string    `json:"decided_by" validate:"required"`
	DecidedAt     time.Time `json:"decided_at"`
}

// SimulationRequest asks for a what-if role removal.
type SimulationRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	RoleToRemove string `json:"role_to_remove" validate:"required"`
}

// EvidenceLog is the complete audit package: what was ingested, which
// policies (and their hash) produced the findings, the redacted findings
// themselves, and every reviewer decision.
type EvidenceLog struct {
	GeneratedAt      time.Time                `json:"generated_at"`
	IngestionSummary *ingestion.IngestSummary `json:"ingestion_summary"`
	PoliciesUsed     []*access.ToxicPolicy    `json:"policies_used"`
	PoliciesHash     string                   `json:"policies_hash"`
	Findings         []redactedFinding        `json:"findings"`
	Decisions        []DecisionRequest        `json:"decisions"`
	Metadata         map[string]any           `json:"metadata"`
}

// redactedUser is the evidence-log view of a user: no user_id, name
// replaced, email reduced to its redacted form.
type redactedUser struct {
	Name          string                           `json:"name"`
	Email         string                           `json:"email"`
	Department    string                           `json:"department"`
	Status        access.AssignmentStatus          `json:"status"`
	ActiveRoles   map[string]access.RoleAssignment `json:"active_roles"`
	SourceSystems []string                         `json:"source_systems"`
}

type redactedProfile struct {
	FindingID          string                `json:"finding_id"`
	User               redactedUser          `json:"user"`
	ViolatedPolicies   []*access.ToxicPolicy `json:"violated_policies"`
	ConflictingRoleSet []string              `json:"conflicting_role_set"`
	Severity           string                `json:"severity"`
	Reason             string                `json:"reason"`
	SuggestedAction    string                `json:"suggested_action"`
}

type redactedFinding struct {
	Profile       redactedProfile        `json:"profile"`
	Justification *justify.Justification `json:"justification,omitempty"`
}

func redactFinding(f *FindingResponse) redactedFinding {
	user := f.Profile.User
	return redactedFinding{
		Profile: redactedProfile{
			FindingID: f.Profile.FindingID,
			User: redactedUser{
				Name:          "REDACTED",
				Email:         user.Email.Redacted(),
				Department:    user.Department,
				Status:        user.Status,
				ActiveRoles:   user.ActiveRoles,
				SourceSystems: user.SourceSystems,
			},
			ViolatedPolicies:   f.Profile.ViolatedPolicies,
			ConflictingRoleSet: f.Profile.ConflictingRoleSet,
			Severity:           f.Profile.Severity,
			Reason:             f.Profile.Reason,
			SuggestedAction:    f.Profile.SuggestedAction,
		},
		Justification: f.Justification,
	}
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
