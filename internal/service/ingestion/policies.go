package ingestion

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
	apperrors "github.com/davidleathers/sod-sentinel/internal/errors"
	"github.com/davidleathers/sod-sentinel/internal/metrics"
)

// roleExtractor pulls role tokens out of the free-form roles column.
// Token extraction is deliberately lenient: it accepts JSON-ish lists,
// pipe- or semicolon-separated strings, and anything in between.
var roleExtractor = regexp.MustCompile(`[A-Za-z0-9_]+`)

var policyColumns = []string{"policy_id", "description", "roles"}

type policyStats struct {
	totalRows          int
	valid              int
	corrupt            int
	filteredSingleRole int
}

// ingestPolicies parses the policies file line by line. The roles column
// is free-form, so rows are split into at most three parts by hand
// instead of going through a strict CSV reader.
//
// Outcomes are kept distinct: "corrupt" means the row shape or its role
// content failed; "filtered" means the row was well-formed but carried
// only a single role, which cannot express a toxic combination.
func (s *Service) ingestPolicies(path string) (policyStats, error) {
	var stats policyStats

	content, err := os.ReadFile(path)
	if err != nil {
		return stats, apperrors.NewValidationError(apperrors.CodeInvalidCSV,
			"policies file not found").WithCause(err)
	}

	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return stats, apperrors.NewValidationError(apperrors.CodeInvalidCSV,
			"policies CSV file is empty")
	}

	headerCols := make(map[string]struct{})
	for _, col := range strings.Split(lines[0], ",") {
		headerCols[strings.TrimSpace(trimBOM(col))] = struct{}{}
	}
	var missing []string
	for _, col := range policyColumns {
		if _, ok := headerCols[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return stats, apperrors.NewValidationError(apperrors.CodeInvalidCSV,
			fmt.Sprintf("policies file missing required columns: %v", missing))
	}

	for i, line := range lines[1:] {
		lineNumber := i + 2
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		stats.totalRows++

		parts := strings.SplitN(line, ",", 3)
		if len(parts) < 3 {
			stats.corrupt++
			s.metrics.PolicyRows.WithLabelValues(metrics.OutcomeCorrupt).Inc()
			s.policyErrors = append(s.policyErrors, RowError{
				Line: lineNumber,
				Err:  "row must have 3 parts (policy_id, description, roles)",
				Data: line,
			})
			continue
		}

		policyID := strings.TrimSpace(parts[0])
		description := sanitizeFreeText(parts[1])
		rolesRaw := strings.TrimSpace(parts[2])

		roles := roleExtractor.FindAllString(rolesRaw, -1)
		if len(roles) == 0 {
			stats.corrupt++
			s.metrics.PolicyRows.WithLabelValues(metrics.OutcomeCorrupt).Inc()
			s.policyErrors = append(s.policyErrors, RowError{
				Line: lineNumber,
				Err:  fmt.Sprintf("could not extract any roles from: %s", rolesRaw),
				Data: line,
			})
			continue
		}
		if len(roles) == 1 {
			stats.filteredSingleRole++
			s.metrics.PolicyRows.WithLabelValues(metrics.OutcomeFiltered).Inc()
			s.policyErrors = append(s.policyErrors, RowError{
				Line: lineNumber,
				Err:  "Policy filtered: must contain at least two roles.",
				Data: line,
			})
			continue
		}

		policy, err := access.NewToxicPolicy(policyID, description, roles)
		if err != nil {
			// Duplicate tokens can collapse below the two-role minimum.
			stats.corrupt++
			s.metrics.PolicyRows.WithLabelValues(metrics.OutcomeCorrupt).Inc()
			s.policyErrors = append(s.policyErrors, RowError{
				Line: lineNumber,
				Err:  err.Error(),
				Data: line,
			})
			continue
		}

		s.policies = append(s.policies, policy)
		stats.valid++
		s.metrics.PolicyRows.WithLabelValues(metrics.OutcomeValid).Inc()
	}

	s.policiesHash = access.ComputePoliciesHash(s.policies)

	s.logger.Info("policies parsed",
		zap.Int("valid", stats.valid),
		zap.String("policies_hash", s.policiesHash))
	if stats.corrupt > 0 || stats.filteredSingleRole > 0 {
		s.logger.Warn("ignored policy rows",
			zap.Int("corrupt", stats.corrupt),
			zap.Int("filtered_single_role", stats.filteredSingleRole))
	}

	return stats, nil
}
