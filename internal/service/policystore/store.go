package policystore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
)

// Store is an in-memory store for the active toxic-combination policy
// set. The set is replaced wholesale on each ingestion; there is no
// incremental mutation. Iteration order is the ingestion order, which the
// detection engine relies on for the ordering of ViolatedPolicies.
type Store struct {
	logger *zap.Logger

	mu       sync.RWMutex
	ordered  []*access.ToxicPolicy
	byID     map[string]*access.ToxicPolicy
	setsHash string
}

// NewStore creates an empty policy store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		logger: logger,
		byID:   make(map[string]*access.ToxicPolicy),
	}
}

// Replace swaps the entire policy set and recomputes the integrity hash.
func (s *Store) Replace(policies []*access.ToxicPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ordered = make([]*access.ToxicPolicy, len(policies))
	copy(s.ordered, policies)
	s.byID = make(map[string]*access.ToxicPolicy, len(policies))
	for _, p := range policies {
		s.byID[p.PolicyID] = p
	}
	s.setsHash = access.ComputePoliciesHash(s.ordered)

	s.logger.Info("policy store updated",
		zap.Int("policies", len(s.ordered)),
		zap.String("policies_hash", s.setsHash))
}

// All returns the active policies in ingestion order.
func (s *Store) All() []*access.ToxicPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*access.ToxicPolicy, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Get returns a specific policy by ID, or nil when absent.
func (s *Store) Get(policyID string) *access.ToxicPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[policyID]
}

// Hash returns the integrity hash of the current policy set.
func (s *Store) Hash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setsHash
}

// Len returns the number of active policies.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}
