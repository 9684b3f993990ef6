package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/reconciler/internal/authorization"
	"github.com/smallbiznis/reconciler/internal/authorization/keyhash"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/observability"
	obsmetrics "github.com/smallbiznis/reconciler/internal/observability/metrics"
	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"github.com/smallbiznis/reconciler/internal/reconciliation/domain/mocks"
	"github.com/smallbiznis/reconciler/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	adminKey  = "rk_admin_test"
	finopsKey = "rk_finops_test"
)

type testServer struct {
	engine *gin.Engine
	svc    *mocks.MockService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{Log: zaptest.NewLogger(t), Enforcer: enforcer})

	adminHash, err := keyhash.Hash(adminKey)
	require.NoError(t, err)
	finopsHash, err := keyhash.Hash(finopsKey)
	require.NoError(t, err)
	keyRing, err := authorization.ParseKeyRing(fmt.Sprintf("admin=%s;finops=%s", adminHash, finopsHash))
	require.NoError(t, err)

	httpMetrics, err := obsmetrics.NewHTTPMetrics(obsmetrics.Config{ServiceName: "reconciler", Environment: "test"})
	require.NoError(t, err)
	engine := NewEngine(observability.Config{Environment: "test"}, httpMetrics)

	NewServer(ServerParams{
		Gin:               engine,
		Cfg:               config.Config{},
		Log:               zaptest.NewLogger(t),
		ReconciliationSvc: svc,
		AuthzSvc:          authzSvc,
		KeyRing:           keyRing,
	})

	return &testServer{engine: engine, svc: svc}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAdminRoutesRequireKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodGet, "/admin/reconciliation", "not-a-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFinOpsCannotRunReconciliation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", finopsKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Type)
}

func TestRunReconciliation(t *testing.T) {
	ts := newTestServer(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	amount := int64(5000)

	ts.svc.EXPECT().
		Reconcile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, req reconciliationdomain.RunRequest) (*reconciliationdomain.Result, error) {
			require.NotNil(t, req.Start)
			require.NotNil(t, req.End)
			assert.True(t, start.Equal(*req.Start))
			assert.True(t, end.Equal(*req.End))
			assert.True(t, req.LogForReview)
			return &reconciliationdomain.Result{
				RunID:  "01HRUN",
				Period: reconciliationdomain.Period{Start: start, End: end},
				LedgerTotals: reconciliationdomain.AggregateTotals{
					GrossRevenue: 15000, Fees: 450, NetRevenue: 14550, TransactionCount: 2,
				},
				InternalTotals: reconciliationdomain.InternalTotals{TotalOrders: 1, TotalRevenue: 10000, RecordedFees: 300},
				Discrepancies: []reconciliationdomain.Discrepancy{
					{Type: reconciliationdomain.DiscrepancyRevenueMismatch, Amount: &amount, Description: "revenue"},
				},
			}, nil
		})

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, map[string]any{
		"startDate":   "2024-01-01T00:00:00Z",
		"endDate":     "2024-01-31T23:59:59Z",
		"autoResolve": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "01HRUN", body["runId"])
	assert.Equal(t, false, body["resolved"])
	ledger := body["ledgerTotals"].(map[string]any)
	assert.Equal(t, float64(15000), ledger["grossRevenue"])
	discrepancies := body["discrepancies"].([]any)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, "revenue_mismatch", discrepancies[0].(map[string]any)["type"])
}

func TestRunReconciliationEmptyBodyUsesDefaults(t *testing.T) {
	ts := newTestServer(t)

	ts.svc.EXPECT().
		Reconcile(gomock.Any(), reconciliationdomain.RunRequest{}).
		Return(&reconciliationdomain.Result{Resolved: true, Discrepancies: []reconciliationdomain.Discrepancy{}}, nil)

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRunReconciliationDateOnlyBounds(t *testing.T) {
	ts := newTestServer(t)

	ts.svc.EXPECT().
		Reconcile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, req reconciliationdomain.RunRequest) (*reconciliationdomain.Result, error) {
			assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *req.Start)
			assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), *req.End)
			assert.False(t, req.LogForReview)
			return &reconciliationdomain.Result{Resolved: true}, nil
		})

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, map[string]any{
		"startDate": "2024-01-01",
		"endDate":   "2024-01-31",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRunReconciliationRejectsMalformedDates(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, map[string]any{
		"startDate": "yesterday",
		"endDate":   "2024-13-45",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 2)
	assert.Equal(t, "startDate", payload.Errors[0].Field)
	assert.Equal(t, "endDate", payload.Errors[1].Field)
}

func TestRunReconciliationRejectsWrongTypes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, `{"autoResolve":"yes"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "autoResolve", payload.Errors[0].Field)

	rec = ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, `{not json`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "request", decodeError(t, rec).Errors[0].Field)
}

func TestRunReconciliationInvalidPeriod(t *testing.T) {
	ts := newTestServer(t)

	ts.svc.EXPECT().Reconcile(gomock.Any(), gomock.Any()).Return(nil, reconciliationdomain.ErrInvalidPeriod)
	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, map[string]any{
		"startDate": "2024-02-01T00:00:00Z",
		"endDate":   "2024-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "period", payload.Errors[0].Field)
	assert.Equal(t, "invalid_period", payload.Errors[0].Code)

	ts.svc.EXPECT().Reconcile(gomock.Any(), gomock.Any()).Return(nil, reconciliationdomain.ErrWindowTooLarge)
	rec = ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "window_too_large", decodeError(t, rec).Errors[0].Code)
}

func TestRunReconciliationFetchFailure(t *testing.T) {
	ts := newTestServer(t)

	ts.svc.EXPECT().
		Reconcile(gomock.Any(), gomock.Any()).
		Return(nil, &reconciliationdomain.FetchError{Source: reconciliationdomain.SourceLedger, Err: errors.New("stripe api: status 502")})

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "reconciliation_failed", payload.Type)
	assert.Contains(t, payload.Message, "stripe api: status 502")
}

func TestRunReconciliationUnexpectedFailureIsOpaque(t *testing.T) {
	ts := newTestServer(t)

	ts.svc.EXPECT().Reconcile(gomock.Any(), gomock.Any()).Return(nil, errors.New("pq: connection refused"))

	rec := ts.do(t, http.MethodPost, "/admin/reconciliation", adminKey, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeError(t, rec).Message)
}

func TestListReconciliationLogs(t *testing.T) {
	ts := newTestServer(t)
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	ts.svc.EXPECT().
		History(gomock.Any(), reconciliationdomain.HistoryRequest{Limit: 10, PageToken: "abc"}).
		Return(reconciliationdomain.HistoryResponse{
			Logs: []reconciliationdomain.LogEntryView{{
				ID:        "42",
				Result:    reconciliationdomain.Result{RunID: "run-1", Discrepancies: []reconciliationdomain.Discrepancy{}},
				CreatedAt: created,
			}},
			PageInfo: pagination.PageInfo{NextPageToken: "next", HasMore: true},
		}, nil)

	rec := ts.do(t, http.MethodGet, "/admin/reconciliation?limit=10&page_token=abc", finopsKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Logs []struct {
			ID    string `json:"id"`
			RunID string `json:"runId"`
		} `json:"logs"`
		PageInfo pagination.PageInfo `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)
	assert.Equal(t, "42", body.Logs[0].ID)
	assert.Equal(t, "run-1", body.Logs[0].RunID)
	assert.True(t, body.PageInfo.HasMore)
	assert.Equal(t, "next", body.PageInfo.NextPageToken)
}

func TestListReconciliationLogsValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin/reconciliation?limit=abc", adminKey, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "limit", decodeError(t, rec).Errors[0].Field)

	ts.svc.EXPECT().History(gomock.Any(), gomock.Any()).Return(reconciliationdomain.HistoryResponse{}, reconciliationdomain.ErrInvalidPageToken)
	rec = ts.do(t, http.MethodGet, "/admin/reconciliation?page_token=broken", adminKey, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "page_token", decodeError(t, rec).Errors[0].Field)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
