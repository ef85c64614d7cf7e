package rest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/sod-sentinel/internal/metrics"
	"github.com/davidleathers/sod-sentinel/internal/service/detection"
	"github.com/davidleathers/sod-sentinel/internal/service/ingestion"
	"github.com/davidleathers/sod-sentinel/internal/service/justify"
	"github.com/davidleathers/sod-sentinel/internal/service/policystore"
)

const testAssignmentsCSV = `user_id,name,email,department,status,role,source_system,granted_at_iso
u1,Ana Diaz,ana@example.com,Finance,active,PaymentsAdmin,SAP,2024-01-01T00:00:00Z
u1,Ana Diaz,ana@example.com,Finance,active,TradingDesk,Murex,2024-01-02T00:00:00Z
u2,Bob Chen,bob@example.com,IT,active,Viewer,SAP,2024-01-01T00:00:00Z
`

const testPoliciesCSV = `policy_id,description,roles
P1,Payments vs trading,PaymentsAdmin|TradingDesk
`

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := zaptest.NewLogger(t)
	m := metrics.NewRegistry(prometheus.NewRegistry())

	ingest := ingestion.NewService(logger, m, ingestion.Config{})
	store := policystore.NewStore(logger)
	engine := detection.NewEngine(logger, store, m)
	justifier := justify.NewService(logger, justify.MockProvider{}, m, justify.Config{ProviderName: "mock"})

	handler := NewHandler(logger, ingest, store, engine, justifier, "test", 32<<20)
	mux := http.NewServeMux()
	handler.Register(mux)
	return mux
}

type uploadFile struct {
	field    string
	filename string
	content  string
}

func multipartBody(t *testing.T, files ...uploadFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func doIngest(t *testing.T, mux *http.ServeMux, assignments, policies string) *httptest.ResponseRecorder {
	t.Helper()
	files := []uploadFile{{field: "assignments", filename: "assignments.csv", content: assignments}}
	if policies != "" {
		files = append(files, uploadFile{field: "policies", filename: "policies.csv", content: policies})
	}
	body, contentType := multipartBody(t, files...)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func doJSON(mux *http.ServeMux, method, path string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(mux, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestHandleIngest(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doIngest(t, mux, testAssignmentsCSV, testPoliciesCSV)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var summary ingestion.IngestSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, 3, summary.TotalAssignmentRows)
		assert.Equal(t, 1, summary.ValidPolicies)
		assert.Equal(t, 2, summary.UsersProcessed)
	})

	t.Run("assignments upload is required", func(t *testing.T) {
		mux := newTestMux(t)
		body, contentType := multipartBody(t,
			uploadFile{field: "policies", filename: "policies.csv", content: testPoliciesCSV})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "assignments upload is required")
	})

	t.Run("rejects non-csv uploads", func(t *testing.T) {
		mux := newTestMux(t)
		body, contentType := multipartBody(t,
			uploadFile{field: "assignments", filename: "assignments.txt", content: testAssignmentsCSV})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "must be a .csv file")
	})

	t.Run("fatal csv errors surface as 400", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doIngest(t, mux, "user_id,name\nu1,Ana\n", testPoliciesCSV)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing required columns")
	})
}

func TestHandleFindingsStream(t *testing.T) {
	t.Run("requires ingested data", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doJSON(mux, http.MethodGet, "/api/v1/findings", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "No data ingested")
	})

	t.Run("streams one event per finding plus done", func(t *testing.T) {
		mux := newTestMux(t)
		require.Equal(t, http.StatusOK, doIngest(t, mux, testAssignmentsCSV, testPoliciesCSV).Code)

		rec := doJSON(mux, http.MethodGet, "/api/v1/findings", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		assert.Contains(t, body, `"finding_id":"FINDING-`)
		assert.Contains(t, body, `"P1"`)
		assert.Contains(t, body, "event: done")
		assert.Equal(t, 1, strings.Count(body, `"profile"`))
	})

	t.Run("no violations yields an empty data event", func(t *testing.T) {
		mux := newTestMux(t)
		assignments := "user_id,name,email,department,status,role,source_system,granted_at_iso\n" +
			"u2,Bob Chen,bob@example.com,IT,active,Viewer,SAP,2024-01-01T00:00:00Z\n"
		require.Equal(t, http.StatusOK, doIngest(t, mux, assignments, testPoliciesCSV).Code)

		rec := doJSON(mux, http.MethodGet, "/api/v1/findings", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "data: {}\n\n", rec.Body.String())
	})
}

func TestHandleFindingsWebsocket(t *testing.T) {
	mux := newTestMux(t)
	require.Equal(t, http.StatusOK, doIngest(t, mux, testAssignmentsCSV, testPoliciesCSV).Code)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/findings/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var sawFinding, sawDone bool
	for !sawDone {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["event"] == "done" {
			sawDone = true
			continue
		}
		if _, ok := msg["profile"]; ok {
			sawFinding = true
		}
	}
	assert.True(t, sawFinding)
}

func TestHandleDecision(t *testing.T) {
	mux := newTestMux(t)
	require.Equal(t, http.StatusOK, doIngest(t, mux, testAssignmentsCSV, testPoliciesCSV).Code)
	require.Equal(t, http.StatusOK, doJSON(mux, http.MethodGet, "/api/v1/findings", nil).Code)

	t.Run("records a decision for a flagged user", func(t *testing.T) {
		rec := doJSON(mux, http.MethodPost, "/api/v1/decisions", map[string]any{
			"user_id":    "u1",
			"decision":   "revoke_role",
			"decided_by": "reviewer@example.com",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "success", body["status"])
		assert.EqualValues(t, 1, body["total_decisions"])
	})

	t.Run("resubmission replaces the previous decision", func(t *testing.T) {
		rec := doJSON(mux, http.MethodPost, "/api/v1/decisions", map[string]any{
			"user_id":    "u1",
			"decision":   "accept_risk",
			"decided_by": "reviewer@example.com",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.EqualValues(t, 1, body["total_decisions"])
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := doJSON(mux, http.MethodPost, "/api/v1/decisions", map[string]any{
			"user_id":    "u9",
			"decision":   "accept_risk",
			"decided_by": "reviewer@example.com",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid decision value", func(t *testing.T) {
		rec := doJSON(mux, http.MethodPost, "/api/v1/decisions", map[string]any{
			"user_id":    "u1",
			"decision":   "shrug",
			"decided_by": "reviewer@example.com",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleEvidence(t *testing.T) {
	t.Run("requires ingested data", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doJSON(mux, http.MethodGet, "/api/v1/evidence", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "No data ingested")
	})

	t.Run("requires a findings run", func(t *testing.T) {
		mux := newTestMux(t)
		require.Equal(t, http.StatusOK, doIngest(t, mux, testAssignmentsCSV, testPoliciesCSV).Code)

		rec := doJSON(mux, http.MethodGet, "/api/v1/evidence", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "No findings generated")
	})

	t.Run("redacts user identity", func(t *testing.T) {
		mux := newTestMux(t)
		require.Equal(t, http.StatusOK, doIngest(t, mux, testAssignmentsCSV, testPoliciesCSV).Code)
		require.Equal(t, http.StatusOK, doJSON(mux, http.MethodGet, "/api/v1/findings", nil).Code)

		rec := doJSON(mux, http.MethodGet, "/api/v1/evidence", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var evidence EvidenceLog
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evidence))

		require.Len(t, evidence.Findings, 1)
		finding := evidence.Findings[0]
		assert.Equal(t, "REDACTED", finding.Profile.User.Name)
		assert.Equal(t, "a***@example.com", finding.Profile.User.Email)
		assert.Regexp(t, "^[0-9a-f]{16}$", evidence.PoliciesHash)
		require.Len(t, evidence.PoliciesUsed, 1)
		assert.Equal(t, "P1", evidence.PoliciesUsed[0].PolicyID)

		body := rec.Body.String()
		assert.NotContains(t, body, "Ana Diaz")
		assert.NotContains(t, body, `"user_id":"u1"`)
	})
}

func TestHandleSimulate(t *testing.T) {
	mux := newTestMux(t)
	require.Equal(t, http.StatusOK, doIngest(t, mux, testAssignmentsCSV, testPoliciesCSV).Code)

	t.Run("removal resolves the violation", func(t *testing.T) {
		rec := doJSON(mux, http.MethodPost, "/api/v1/simulate", map[string]any{
			"user_id":        "u1",
			"role_to_remove": "PaymentsAdmin",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var result detection.SimulationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Resolved)
		assert.Empty(t, result.ViolationsRemaining)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := doJSON(mux, http.MethodPost, "/api/v1/simulate", map[string]any{
			"user_id":        "u9",
			"role_to_remove": "PaymentsAdmin",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("role not held", func(t *testing.T) {
		rec := doJSON(mux, http.MethodPost, "/api/v1/simulate", map[string]any{
			"user_id":        "u1",
			"role_to_remove": "Viewer",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := doJSON(mux, http.MethodPost, "/api/v1/simulate", map[string]any{
			"user_id": "u1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleErrorExports(t *testing.T) {
	t.Run("clean ingestion reports no errors", func(t *testing.T) {
		mux := newTestMux(t)
		require.Equal(t, http.StatusOK, doIngest(t, mux, testAssignmentsCSV, testPoliciesCSV).Code)

		rec := doJSON(mux, http.MethodGet, "/api/v1/ingest/errors/assignments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "No assignment ingestion errors found.")

		rec = doJSON(mux, http.MethodGet, "/api/v1/ingest/errors/policies", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "No policy ingestion errors found.")
	})

	t.Run("corrupt rows export as csv", func(t *testing.T) {
		mux := newTestMux(t)
		assignments := testAssignmentsCSV +
			"u3,Cal Ito,not-an-email,IT,active,RoleA,SAP,2024-01-01T00:00:00Z\n"
		policies := testPoliciesCSV + "P2,single role,OnlyRole\n"
		require.Equal(t, http.StatusOK, doIngest(t, mux, assignments, policies).Code)

		rec := doJSON(mux, http.MethodGet, "/api/v1/ingest/errors/assignments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "line,error")
		assert.Contains(t, rec.Body.String(), "not-an-email")

		rec = doJSON(mux, http.MethodGet, "/api/v1/ingest/errors/policies", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "OnlyRole")
	})
}
