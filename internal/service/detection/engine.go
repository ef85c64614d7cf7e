package detection

import (
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
	"github.com/davidleathers/sod-sentinel/internal/metrics"
)

// PolicySource provides the active policy set in a stable iteration
// order.
type PolicySource interface {
	All() []*access.ToxicPolicy
}

// Engine detects toxic role combinations. It is a pure function of
// (user states, policy set): no hidden state, no mutation of its inputs,
// so runs are reproducible and tests can execute in parallel.
type Engine struct {
	logger   *zap.Logger
	policies PolicySource
	metrics  *metrics.Registry
}

// NewEngine creates a detection engine over the given policy source.
func NewEngine(logger *zap.Logger, policies PolicySource, m *metrics.Registry) *Engine {
	return &Engine{
		logger:   logger,
		policies: policies,
		metrics:  m,
	}
}

// DetectViolations scans every input user against every policy and
// aggregates all of a user's matches into a single violation profile.
//
// Inputs are normally pre-filtered to active multi-role users, but the
// engine tolerates anything: single-role or roleless users simply match
// nothing. An empty policy set means there is nothing to check and
// yields an empty result, not an error.
func (e *Engine) DetectViolations(userStates map[string]*access.UserState) map[string]*access.UserViolationProfile {
	start := time.Now()
	profiles := make(map[string]*access.UserViolationProfile)

	policies := e.policies.All()
	if len(policies) == 0 {
		e.logger.Warn("no policies loaded, detection skipped")
		return profiles
	}

	e.logger.Info("running detection",
		zap.Int("users", len(userStates)),
		zap.Int("policies", len(policies)))

	for userID, state := range userStates {
		userRoles := state.RoleNames()

		var violated []*access.ToxicPolicy
		for _, policy := range policies {
			if policy.MatchedBy(userRoles) {
				violated = append(violated, policy)
			}
		}

		if len(violated) > 0 {
			profiles[userID] = access.NewUserViolationProfile(state, violated)
		}
	}

	e.metrics.DetectionRuns.Inc()
	e.metrics.ViolationsDetected.Set(float64(len(profiles)))
	e.metrics.DetectionDuration.Observe(time.Since(start).Seconds())

	e.logger.Info("detection complete",
		zap.Int("users_with_violations", len(profiles)))

	return profiles
}
