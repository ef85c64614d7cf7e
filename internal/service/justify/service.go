package justify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
	"github.com/davidleathers/sod-sentinel/internal/metrics"
)

// Justification is the audited record of one LLM remediation: the full
// prompt, the raw response, and the parsed fields, with the user's email
// already redacted.
type Justification struct {
	FindingID       string    `json:"finding_id"`
	ModelIdentifier string    `json:"model_identifier"`
	Prompt          string    `json:"prompt"`
	Response        string    `json:"response"`
	Risk            string    `json:"risk"`
	Action          string    `json:"action"`
	Rationale       string    `json:"rationale"`
	EmailRedacted   string    `json:"email_redacted"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Config holds the justification service configuration
type Config struct {
	ProviderName string        `json:"provider"`
	MaxRetries   int           `json:"max_retries"`
	Timeout      time.Duration `json:"timeout"`
}

// Service wraps an LLM provider with retries, response validation, and a
// deterministic fallback. The detection core never depends on it; it
// consumes finished violation profiles.
type Service struct {
	logger   *zap.Logger
	provider Provider
	fallback Provider
	metrics  *metrics.Registry
	config   Config
}

// NewService creates a justification service around the given provider.
func NewService(logger *zap.Logger, provider Provider, m *metrics.Registry, config Config) *Service {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	return &Service{
		logger:   logger,
		provider: provider,
		fallback: MockProvider{},
		metrics:  m,
		config:   config,
	}
}

// jsonObject finds the first JSON object embedded in a model response;
// providers often wrap the payload in prose.
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// GenerateUserRemediation produces a justification for one violation
// profile. Provider failures are retried; if every attempt fails or the
// response never parses, the mock fallback supplies a generic
// justification so the findings stream never stalls on the LLM.
func (s *Service) GenerateUserRemediation(ctx context.Context, profile *access.UserViolationProfile) (*Justification, error) {
	emailRedacted := profile.User.Email.Redacted()
	prompt := BuildRemediationPrompt(profile)

	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		responseText, err := s.generate(ctx, prompt, profile)
		if err != nil {
			s.logger.Warn("provider generation failed",
				zap.Int("attempt", attempt),
				zap.String("finding_id", profile.FindingID),
				zap.Error(err))
			continue
		}

		risk, action, rationale, err := parseResponse(responseText)
		if err != nil {
			s.logger.Warn("provider response rejected",
				zap.Int("attempt", attempt),
				zap.String("finding_id", profile.FindingID),
				zap.Error(err))
			continue
		}

		return &Justification{
			FindingID:       profile.FindingID,
			ModelIdentifier: s.provider.ModelIdentifier(),
			Prompt:          prompt,
			Response:        responseText,
			Risk:            risk,
			Action:          action,
			Rationale:       rationale,
			EmailRedacted:   emailRedacted,
			GeneratedAt:     time.Now().UTC(),
		}, nil
	}

	s.metrics.JustificationFailures.Inc()
	return s.fallbackJustification(ctx, profile, prompt, emailRedacted)
}

func (s *Service) generate(ctx context.Context, prompt string, profile *access.UserViolationProfile) (string, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	return s.provider.Generate(ctx, prompt, profile)
}

func (s *Service) fallbackJustification(ctx context.Context, profile *access.UserViolationProfile, prompt, emailRedacted string) (*Justification, error) {
	responseText, err := s.fallback.Generate(ctx, prompt, profile)
	if err != nil {
		return nil, fmt.Errorf("fallback justification failed: %w", err)
	}
	risk, action, rationale, err := parseResponse(responseText)
	if err != nil {
		return nil, fmt.Errorf("fallback justification failed: %w", err)
	}

	return &Justification{
		FindingID:       profile.FindingID,
		ModelIdentifier: s.fallback.ModelIdentifier(),
		Prompt:          prompt,
		Response:        "FALLBACK: " + responseText,
		Risk:            risk,
		Action:          action,
		Rationale:       rationale,
		EmailRedacted:   emailRedacted,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

// Status describes the service for evidence-log metadata.
func (s *Service) Status() map[string]string {
	return map[string]string{
		"provider": s.config.ProviderName,
		"model":    s.provider.ModelIdentifier(),
	}
}

// ModelIdentifier returns the active provider's model identifier.
func (s *Service) ModelIdentifier() string {
	return s.provider.ModelIdentifier()
}

func parseResponse(responseText string) (risk, action, rationale string, err error) {
	match := jsonObject.FindString(responseText)
	if match == "" {
		return "", "", "", fmt.Errorf("no JSON object found in LLM response")
	}

	var resp providerResponse
	if err := json.Unmarshal([]byte(match), &resp); err != nil {
		return "", "", "", fmt.Errorf("LLM JSON parsing failed: %w", err)
	}
	if resp.Risk == "" || resp.Action == "" || resp.Rationale == "" {
		return "", "", "", fmt.Errorf("JSON object is missing required keys")
	}

	return resp.Risk, resp.Action, resp.Rationale, nil
}
