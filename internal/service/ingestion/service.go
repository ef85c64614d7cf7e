package ingestion

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
	"github.com/davidleathers/sod-sentinel/internal/metrics"
)

// Config holds the ingestion service configuration
type Config struct {
	// SeedDir is searched for a default toxic_policies.csv when an
	// ingestion batch arrives without a policies file.
	SeedDir string `json:"seed_dir"`
}

// Service ingests assignment and policy CSV files and resolves them into
// one authoritative UserState per user plus a validated policy set.
//
// The service is synchronous and not safe for concurrent use; the
// calling layer serializes ingestion per logical session.
type Service struct {
	logger   *zap.Logger
	validate *validator.Validate
	metrics  *metrics.Registry
	config   Config

	// userStates holds only users eligible for detection (active with
	// more than one role); allUserStates holds every user seen.
	userStates    map[string]*access.UserState
	allUserStates map[string]*access.UserState

	policies     []*access.ToxicPolicy
	policiesHash string
	lastSummary  *IngestSummary

	assignmentErrors []RowError
	policyErrors     []RowError
}

// NewService creates an ingestion service.
func NewService(logger *zap.Logger, m *metrics.Registry, config Config) *Service {
	return &Service{
		logger:        logger,
		validate:      validator.New(),
		metrics:       m,
		config:        config,
		userStates:    make(map[string]*access.UserState),
		allUserStates: make(map[string]*access.UserState),
	}
}

// ProcessIngestion runs one full ingestion batch. Each call clears and
// rebuilds all state from empty, so processing the same files always
// reproduces the same maps regardless of prior calls.
//
// policiesPath may be empty; the seed directory is then consulted for a
// default policy set, and an empty policy set is used when none exists.
func (s *Service) ProcessIngestion(assignmentsPath, policiesPath string) (*IngestSummary, error) {
	start := time.Now()
	s.Reset()

	assignStats, err := s.ingestAssignments(assignmentsPath)
	if err != nil {
		return nil, err
	}

	var pstats policyStats
	switch {
	case policiesPath != "":
		pstats, err = s.ingestPolicies(policiesPath)
		if err != nil {
			return nil, err
		}
	case s.config.SeedDir != "":
		seedPath := filepath.Join(s.config.SeedDir, "toxic_policies.csv")
		if _, statErr := os.Stat(seedPath); statErr == nil {
			s.logger.Info("loading default policies from seed data",
				zap.String("path", seedPath))
			pstats, err = s.ingestPolicies(seedPath)
			if err != nil {
				return nil, err
			}
		} else {
			s.logger.Error("no policies file provided and no seed data found")
		}
	default:
		s.logger.Error("no policies file provided and no seed directory configured")
	}

	var (
		totalActiveRoles int
		uniqueRoles      = make(map[string]struct{})
		singleRoleUsers  int
		activeUsers      int
	)
	for _, state := range s.allUserStates {
		if state.Status != access.StatusActive {
			continue
		}
		activeUsers++
		if len(state.ActiveRoles) <= 1 {
			singleRoleUsers++
		}
		totalActiveRoles += len(state.ActiveRoles)
		for role := range state.ActiveRoles {
			uniqueRoles[role] = struct{}{}
		}
	}

	summary := &IngestSummary{
		Timestamp: time.Now().UTC(),

		TotalAssignmentRows:   assignStats.totalRows,
		ValidAssignmentRows:   assignStats.validRows,
		CorruptAssignmentRows: assignStats.corruptRows,

		TotalPolicyRows:            pstats.totalRows,
		ValidPolicies:              pstats.valid,
		CorruptPolicies:            pstats.corrupt,
		FilteredPoliciesSingleRole: pstats.filteredSingleRole,

		UsersProcessed:              assignStats.usersFound,
		ActiveUsers:                 activeUsers,
		InactiveUsers:               assignStats.inactiveUsers,
		UsersWithSingleRoleFiltered: singleRoleUsers,

		TotalActiveRoles:  totalActiveRoles,
		UniqueActiveRoles: len(uniqueRoles),
	}
	s.lastSummary = summary

	s.metrics.UsersResolved.Set(float64(summary.UsersProcessed))
	s.metrics.ActivePolicies.Set(float64(summary.ValidPolicies))
	s.metrics.IngestDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("ingestion complete",
		zap.Int("assignment_rows", summary.TotalAssignmentRows),
		zap.Int("corrupt_assignment_rows", summary.CorruptAssignmentRows),
		zap.Int("valid_policies", summary.ValidPolicies),
		zap.Int("users_processed", summary.UsersProcessed),
		zap.Int("active_users", summary.ActiveUsers),
	)

	return summary, nil
}

// UserStates returns the users eligible for detection (active, more than
// one role).
func (s *Service) UserStates() map[string]*access.UserState {
	return s.userStates
}

// FullUserState returns any user seen in the last batch, eligible or not.
// A nil result means the user is unknown; that is not an error.
func (s *Service) FullUserState(userID string) *access.UserState {
	return s.allUserStates[userID]
}

// AllUserStates returns every user seen in the last batch.
func (s *Service) AllUserStates() map[string]*access.UserState {
	return s.allUserStates
}

// Policies returns the validated policy set from the last batch.
func (s *Service) Policies() []*access.ToxicPolicy {
	return s.policies
}

// PoliciesHash returns the integrity hash of the current policy set.
func (s *Service) PoliciesHash() string {
	return s.policiesHash
}

// LastSummary returns the summary of the most recent batch, or nil when
// nothing has been ingested yet.
func (s *Service) LastSummary() *IngestSummary {
	return s.lastSummary
}

// AssignmentErrors returns the per-line error records for the
// assignments file of the last batch.
func (s *Service) AssignmentErrors() []RowError {
	return s.assignmentErrors
}

// PolicyErrors returns the per-line error records for the policies file
// of the last batch.
func (s *Service) PolicyErrors() []RowError {
	return s.policyErrors
}

// Reset clears all ingested state.
func (s *Service) Reset() {
	s.userStates = make(map[string]*access.UserState)
	s.allUserStates = make(map[string]*access.UserState)
	s.policies = nil
	s.policiesHash = ""
	s.lastSummary = nil
	s.assignmentErrors = nil
	s.policyErrors = nil
}
