package rest

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/davidleathers/sod-sentinel/internal/errors"
	"github.com/davidleathers/sod-sentinel/internal/service/ingestion"
)

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput,
			fmt.Sprintf("parsing multipart form: %v", err))
		return
	}

	assignmentsPath, cleanupAssignments, err := h.saveUpload(r, "assignments", true)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	defer cleanupAssignments()

	policiesPath, cleanupPolicies, err := h.saveUpload(r, "policies", false)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	defer cleanupPolicies()

	h.mu.Lock()
	defer h.mu.Unlock()

	summary, err := h.ingest.ProcessIngestion(assignmentsPath, policiesPath)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.policies.Replace(h.ingest.Policies())

	h.writeJSON(w, http.StatusOK, summary)
}

// saveUpload copies one uploaded CSV to a temp file and returns its path
// with a cleanup func. A missing optional upload returns an empty path.
func (h *Handler) saveUpload(r *http.Request, field string, required bool) (string, func(), error) {
	noop := func() {}

	file, header, err := r.FormFile(field)
	if err != nil {
		if !required {
			return "", noop, nil
		}
		return "", noop, apperrors.NewValidationError(apperrors.CodeInvalidInput,
			fmt.Sprintf("%s upload is required", field))
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		return "", noop, apperrors.NewValidationError(apperrors.CodeInvalidInput,
			fmt.Sprintf("%s upload must be a .csv file", field))
	}

	h.logger.Info("receiving upload",
		zap.String("field", field),
		zap.String("filename", safeFilename(header)))

	tmp, err := os.CreateTemp("", "sod-upload-*.csv")
	if err != nil {
		return "", noop, fmt.Errorf("creating temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("closing upload: %w", err)
	}

	return tmp.Name(), cleanup, nil
}

// safeFilename strips anything that should not reach a log line.
func safeFilename(header *multipart.FileHeader) string {
	var b strings.Builder
	for _, c := range header.Filename {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func (h *Handler) handleAssignmentErrors(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	rowErrors := h.ingest.AssignmentErrors()
	h.mu.Unlock()

	if len(rowErrors) == 0 {
		h.writeJSON(w, http.StatusOK, map[string]string{
			"message": "No assignment ingestion errors found.",
		})
		return
	}

	// Column set comes from the first error's raw row so the export
	// mirrors the input file's schema.
	var dataCols []string
	if data, ok := rowErrors[0].Data.(map[string]string); ok {
		for col := range data {
			dataCols = append(dataCols, col)
		}
		sort.Strings(dataCols)
	}

	writeErrorCSV(w, "assignment_errors.csv", append([]string{"line", "error"}, dataCols...), rowErrors,
		func(re ingestion.RowError) []string {
			row := []string{fmt.Sprint(re.Line), re.Err}
			data, _ := re.Data.(map[string]string)
			for _, col := range dataCols {
				row = append(row, data[col])
			}
			return row
		})
}

func (h *Handler) handlePolicyErrors(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	rowErrors := h.ingest.PolicyErrors()
	h.mu.Unlock()

	if len(rowErrors) == 0 {
		h.writeJSON(w, http.StatusOK, map[string]string{
			"message": "No policy ingestion errors found.",
		})
		return
	}

	writeErrorCSV(w, "policy_errors.csv", []string{"line", "error", "data"}, rowErrors,
		func(re ingestion.RowError) []string {
			return []string{fmt.Sprint(re.Line), re.Err, fmt.Sprint(re.Data)}
		})
}

func writeErrorCSV(w http.ResponseWriter, filename string, header []string, rowErrors []ingestion.RowError, rowFn func(ingestion.RowError) []string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	cw := csv.NewWriter(w)
	_ = cw.Write(header)
	for _, re := range rowErrors {
		_ = cw.Write(rowFn(re))
	}
	cw.Flush()
}
