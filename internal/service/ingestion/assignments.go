package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
	"github.com/davidleathers/sod-sentinel/internal/domain/values"
	apperrors "github.com/davidleathers/sod-sentinel/internal/errors"
	"github.com/davidleathers/sod-sentinel/internal/metrics"
)

var assignmentColumns = []string{
	"user_id", "name", "email", "department",
	"status", "role", "source_system", "granted_at_iso",
}

// timestampLayouts are tried in order. The trailing-Z RFC 3339 form is
// the documented format; the offset-less forms match the leniency of the
// upstream exporters that produce these files.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type assignmentStats struct {
	totalRows     int
	validRows     int
	corruptRows   int
	usersFound    int
	inactiveUsers int
}

// rawAssignmentRow is the unparsed field set of one CSV row. Validation
// tags cover presence and email shape; status and timestamp are coerced
// separately so their failures carry precise messages.
type rawAssignmentRow struct {
	UserID       string `validate:"required"`
	Name         string `validate:"required"`
	Email        string `validate:"required,email"`
	Department   string `validate:"required"`
	Status       string `validate:"required"`
	Role         string `validate:"required"`
	SourceSystem string `validate:"required"`
	GrantedAtISO string `validate:"required"`
}

// assignmentRow is one validated assignment record.
type assignmentRow struct {
	UserID       string
	Name         string
	Email        values.Email
	Department   string
	Status       access.AssignmentStatus
	Role         string
	SourceSystem string
	GrantedAt    time.Time
}

// userAccumulator folds the rows for one user. Keeping the fold in one
// small struct makes the resolution invariants checkable row by row: the
// status latch, the role upsert, and the strictly-greater timestamp
// comparison that guards the display fields.
type userAccumulator struct {
	userID     string
	name       string
	email      values.Email
	department string
	status     access.AssignmentStatus

	roles   map[string]access.RoleAssignment
	sources map[string]struct{}

	// latest is the running maximum granted_at; display fields follow it.
	latest time.Time
}

func newUserAccumulator(row *assignmentRow) *userAccumulator {
	return &userAccumulator{
		userID:     row.UserID,
		name:       sanitizeFreeText(row.Name),
		email:      row.Email,
		department: sanitizeFreeText(row.Department),
		status:     access.StatusActive,
		roles:      make(map[string]access.RoleAssignment),
		sources:    make(map[string]struct{}),
		latest:     row.GrantedAt,
	}
}

// apply folds one validated row into the accumulator. Called for every
// row including the one that initialized the accumulator.
func (a *userAccumulator) apply(row *assignmentRow) {
	// Status latches to INACTIVE; later active rows never reset it.
	if row.Status == access.StatusInactive {
		a.status = access.StatusInactive
	}

	if role := sanitizeFreeText(row.Role); role != "" {
		a.roles[role] = access.RoleAssignment{
			Role:         role,
			SourceSystem: row.SourceSystem,
			GrantedAt:    row.GrantedAt,
		}
	}

	a.sources[row.SourceSystem] = struct{}{}

	// Strictly greater: on timestamp ties the earlier row's values win.
	if row.GrantedAt.After(a.latest) {
		a.latest = row.GrantedAt
		a.name = sanitizeFreeText(row.Name)
		a.email = row.Email
		a.department = sanitizeFreeText(row.Department)
	}
}

func (a *userAccumulator) materialize() *access.UserState {
	systems := make([]string, 0, len(a.sources))
	for src := range a.sources {
		systems = append(systems, src)
	}
	sort.Strings(systems)

	return &access.UserState{
		UserID:        a.userID,
		Name:          a.name,
		Email:         a.email,
		Department:    a.department,
		Status:        a.status,
		ActiveRoles:   a.roles,
		SourceSystems: systems,
	}
}

func (s *Service) ingestAssignments(path string) (assignmentStats, error) {
	var stats assignmentStats

	f, err := os.Open(path)
	if err != nil {
		return stats, apperrors.NewValidationError(apperrors.CodeInvalidCSV,
			"ingestion file not found (assignments)").WithCause(err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return stats, apperrors.NewValidationError(apperrors.CodeInvalidCSV,
			"assignments CSV file is empty or unreadable").WithCause(err)
	}

	columnIndex := make(map[string]int, len(header))
	for i, col := range header {
		columnIndex[trimBOM(col)] = i
	}
	var missing []string
	for _, col := range assignmentColumns {
		if _, ok := columnIndex[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return stats, apperrors.NewValidationError(apperrors.CodeInvalidCSV,
			fmt.Sprintf("missing required columns: %v", missing))
	}

	builder := make(map[string]*userAccumulator)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.totalRows++
			stats.corruptRows++
			s.metrics.AssignmentRows.WithLabelValues(metrics.OutcomeCorrupt).Inc()
			s.assignmentErrors = append(s.assignmentErrors, RowError{
				Line: line,
				Err:  err.Error(),
			})
			continue
		}

		stats.totalRows++
		raw := rowToMap(columnIndex, record)

		row, err := s.parseAssignmentRow(raw)
		if err != nil {
			stats.corruptRows++
			s.metrics.AssignmentRows.WithLabelValues(metrics.OutcomeCorrupt).Inc()
			s.assignmentErrors = append(s.assignmentErrors, RowError{
				Line: line,
				Err:  err.Error(),
				Data: raw,
			})
			continue
		}

		acc, ok := builder[row.UserID]
		if !ok {
			acc = newUserAccumulator(row)
			builder[row.UserID] = acc
		}
		acc.apply(row)

		stats.validRows++
		s.metrics.AssignmentRows.WithLabelValues(metrics.OutcomeValid).Inc()
	}

	stats.usersFound = len(builder)

	for userID, acc := range builder {
		state := acc.materialize()
		s.allUserStates[userID] = state

		if state.Status == access.StatusActive {
			if state.Eligible() {
				s.userStates[userID] = state
			}
		} else {
			stats.inactiveUsers++
		}
	}

	s.logger.Info("assignments resolved",
		zap.Int("rows", stats.totalRows),
		zap.Int("corrupt", stats.corruptRows),
		zap.Int("users", stats.usersFound),
		zap.Int("inactive_users", stats.inactiveUsers),
	)

	return stats, nil
}

func (s *Service) parseAssignmentRow(raw map[string]string) (*assignmentRow, error) {
	rawRow := rawAssignmentRow{
		UserID:       raw["user_id"],
		Name:         raw["name"],
		Email:        raw["email"],
		Department:   raw["department"],
		Status:       raw["status"],
		Role:         raw["role"],
		SourceSystem: raw["source_system"],
		GrantedAtISO: raw["granted_at_iso"],
	}
	if err := s.validate.Struct(rawRow); err != nil {
		return nil, err
	}

	status, err := access.ParseAssignmentStatus(rawRow.Status)
	if err != nil {
		return nil, err
	}

	grantedAt, err := parseTimestamp(rawRow.GrantedAtISO)
	if err != nil {
		return nil, err
	}

	email, err := values.NewEmail(rawRow.Email)
	if err != nil {
		return nil, err
	}

	return &assignmentRow{
		UserID:       rawRow.UserID,
		Name:         rawRow.Name,
		Email:        email,
		Department:   rawRow.Department,
		Status:       status,
		Role:         rawRow.Role,
		SourceSystem: rawRow.SourceSystem,
		GrantedAt:    grantedAt,
	}, nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid granted_at_iso %q: not an ISO-8601 timestamp", value)
}

func rowToMap(columnIndex map[string]int, record []string) map[string]string {
	raw := make(map[string]string, len(columnIndex))
	for col, idx := range columnIndex {
		if idx < len(record) {
			raw[col] = record[idx]
		} else {
			raw[col] = ""
		}
	}
	return raw
}

func trimBOM(s string) string {
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF {
		return s[3:]
	}
	return s
}
