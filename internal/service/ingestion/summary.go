package ingestion

import "time"

// IngestSummary reports the outcome of one ingestion batch. It is the
// record of truth for what was accepted, what was dropped, and why.
type IngestSummary struct {
	Timestamp time.Time `json:"timestamp"`

	TotalAssignmentRows   int `json:"total_assignment_rows"`
	ValidAssignmentRows   int `json:"valid_assignment_rows"`
	CorruptAssignmentRows int `json:"corrupt_assignment_rows"`

	TotalPolicyRows            int `json:"total_policy_rows"`
	ValidPolicies              int `json:"valid_policies"`
	CorruptPolicies            int `json:"corrupt_policies"`
	FilteredPoliciesSingleRole int `json:"filtered_policies_single_role"`

	UsersProcessed              int `json:"users_processed"`
	ActiveUsers                 int `json:"active_users"`
	InactiveUsers               int `json:"inactive_users"`
	UsersWithSingleRoleFiltered int `json:"users_with_single_role_filtered"`

	TotalActiveRoles  int `json:"total_active_roles"`
	UniqueActiveRoles int `json:"unique_active_roles"`
}

// RowError is a per-line, recoverable ingestion failure. Row errors never
// abort the batch; they accumulate per input domain and are retrievable
// as a side channel for error reporting and export.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
	Data any    `json:"data"`
}
