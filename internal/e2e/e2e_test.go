package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/reconciler/internal/authorization"
	"github.com/smallbiznis/reconciler/internal/authorization/keyhash"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/migration"
	"github.com/smallbiznis/reconciler/internal/observability"
	"github.com/smallbiznis/reconciler/internal/order"
	orderdomain "github.com/smallbiznis/reconciler/internal/order/domain"
	"github.com/smallbiznis/reconciler/internal/payment"
	"github.com/smallbiznis/reconciler/internal/reconciliation"
	"github.com/smallbiznis/reconciler/internal/server"
	"github.com/smallbiznis/reconciler/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const adminKey = "rk_e2e_admin"

type testEnv struct {
	app     *fx.App
	server  *server.Server
	db      *gorm.DB
	baseURL string
	httpSrv *httptest.Server
	ledger  *fakeLedger
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	ledger := newFakeLedger()
	ledgerSrv := httptest.NewServer(ledger)
	if err := setDefaultEnv(ledgerSrv.URL); err != nil {
		fmt.Fprintln(os.Stderr, "failed to prepare environment:", err)
		os.Exit(1)
	}

	var err error
	env, err = startEnv(ledger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		ledgerSrv.Close()
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	ledgerSrv.Close()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_ReconciliationRequiresAdminKey(t *testing.T) {
	resetDatabase(t, env.db)

	status, _ := doJSON(t, http.MethodPost, "/admin/reconciliation", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", status)
	}
}

func TestE2E_ReconciliationScenario(t *testing.T) {
	resetDatabase(t, env.db)
	env.ledger.reset(scenarioTransactions())
	seedOrders(t, env.db, scenarioOrders())

	status, body := doJSON(t, http.MethodPost, "/admin/reconciliation", adminKey, map[string]any{
		"startDate":   "2024-01-01T00:00:00Z",
		"endDate":     "2024-01-01T23:59:59Z",
		"autoResolve": true,
	})
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", status, body)
	}

	var result struct {
		RunID        string `json:"runId"`
		LedgerTotals struct {
			GrossRevenue     int64 `json:"grossRevenue"`
			Fees             int64 `json:"fees"`
			NetRevenue       int64 `json:"netRevenue"`
			TransactionCount int   `json:"transactionCount"`
		} `json:"ledgerTotals"`
		InternalTotals struct {
			TotalOrders  int   `json:"totalOrders"`
			TotalRevenue int64 `json:"totalRevenue"`
			RecordedFees int64 `json:"recordedFees"`
		} `json:"internalTotals"`
		Discrepancies []struct {
			Type string `json:"type"`
		} `json:"discrepancies"`
		Resolved bool `json:"resolved"`
	}
	decode(t, body, &result)

	if result.RunID == "" {
		t.Fatalf("expected run id")
	}
	if got := result.LedgerTotals; got.GrossRevenue != 5000 || got.Fees != 150 || got.NetRevenue != 4850 || got.TransactionCount != 3 {
		t.Fatalf("unexpected ledger totals: %+v", got)
	}
	if got := result.InternalTotals; got.TotalOrders != 3 || got.TotalRevenue != 6000 || got.RecordedFees != 180 {
		t.Fatalf("unexpected internal totals: %+v", got)
	}
	if result.Resolved {
		t.Fatalf("expected unresolved run")
	}

	types := map[string]int{}
	for _, d := range result.Discrepancies {
		types[d.Type]++
	}
	if types["revenue_mismatch"] != 1 {
		t.Fatalf("expected one revenue_mismatch, got %v", types)
	}
	if types["missing_order"] != 0 {
		t.Fatalf("expected no missing_order, got %v", types)
	}
	if pages := env.ledger.pageCount(); pages < 2 {
		t.Fatalf("expected paginated ledger fetch, got %d page(s)", pages)
	}

	status, body = doJSON(t, http.MethodGet, "/admin/reconciliation?limit=10", adminKey, nil)
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", status, body)
	}
	var history struct {
		Logs []struct {
			RunID         string `json:"runId"`
			Discrepancies []struct {
				Type string `json:"type"`
			} `json:"discrepancies"`
		} `json:"logs"`
	}
	decode(t, body, &history)
	if len(history.Logs) != 1 {
		t.Fatalf("expected one persisted log, got %d", len(history.Logs))
	}
	if history.Logs[0].RunID != result.RunID {
		t.Fatalf("expected run id %s, got %s", result.RunID, history.Logs[0].RunID)
	}
	if len(history.Logs[0].Discrepancies) != len(result.Discrepancies) {
		t.Fatalf("expected %d persisted discrepancies, got %d", len(result.Discrepancies), len(history.Logs[0].Discrepancies))
	}
}

func TestE2E_MissingOrderDetected(t *testing.T) {
	resetDatabase(t, env.db)
	env.ledger.reset(scenarioTransactions())
	orders := scenarioOrders()
	seedOrders(t, env.db, orders[:2])

	status, body := doJSON(t, http.MethodPost, "/admin/reconciliation", adminKey, map[string]any{
		"startDate": "2024-01-01",
		"endDate":   "2024-01-01",
	})
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", status, body)
	}

	var result struct {
		Discrepancies []struct {
			Type        string `json:"type"`
			ExternalRef string `json:"externalRef"`
		} `json:"discrepancies"`
	}
	decode(t, body, &result)

	var missing []string
	for _, d := range result.Discrepancies {
		if d.Type == "missing_order" {
			missing = append(missing, d.ExternalRef)
		}
	}
	if len(missing) != 1 || missing[0] != "txn_3" {
		t.Fatalf("expected txn_3 missing, got %v", missing)
	}

	status, body = doJSON(t, http.MethodGet, "/admin/reconciliation", adminKey, nil)
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", status, body)
	}
	var history struct {
		Logs []json.RawMessage `json:"logs"`
	}
	decode(t, body, &history)
	if len(history.Logs) != 0 {
		t.Fatalf("expected nothing logged without opting in, got %d", len(history.Logs))
	}
}

func TestE2E_LedgerFailureAbortsRun(t *testing.T) {
	resetDatabase(t, env.db)
	env.ledger.reset(scenarioTransactions())
	env.ledger.failWith(http.StatusBadGateway)
	defer env.ledger.failWith(0)

	status, body := doJSON(t, http.MethodPost, "/admin/reconciliation", adminKey, map[string]any{
		"startDate":    "2024-01-01T00:00:00Z",
		"endDate":      "2024-01-01T23:59:59Z",
		"logForReview": true,
	})
	if status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", status, body)
	}

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	decode(t, body, &resp)
	if resp.Error.Type != "reconciliation_failed" {
		t.Fatalf("expected reconciliation_failed, got %q", resp.Error.Type)
	}

	var count int64
	if err := env.db.Raw(`SELECT COUNT(*) FROM reconciliation_logs`).Scan(&count).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no log for an aborted run, got %d", count)
	}
}

func TestE2E_InvalidPeriodRejected(t *testing.T) {
	resetDatabase(t, env.db)

	status, body := doJSON(t, http.MethodPost, "/admin/reconciliation", adminKey, map[string]any{
		"startDate": "2024-02-01T00:00:00Z",
		"endDate":   "2024-01-01T00:00:00Z",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", status, body)
	}
}

func startEnv(ledger *fakeLedger) (*testEnv, error) {
	var (
		srv    *server.Server
		dbConn *gorm.DB
	)

	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		clock.Module,
		payment.Module,
		order.Module,
		reconciliation.Module,
		authorization.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Populate(&srv, &dbConn),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:     app,
		server:  srv,
		db:      dbConn,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
		ledger:  ledger,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv(ledgerURL string) error {
	hash, err := keyhash.Hash(adminKey)
	if err != nil {
		return err
	}

	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("DATABASE_TYPE", db.TypeSQLite)
	setEnvIfEmpty("DATABASE_NAME", fmt.Sprintf("file:e2e_%d?mode=memory&cache=shared", time.Now().UnixNano()))
	setEnvIfEmpty("DATABASE_MAX_OPEN_CONN", "1")
	_ = os.Setenv("LEDGER_PROVIDER", "stripe")
	_ = os.Setenv("LEDGER_API_BASE_URL", ledgerURL)
	_ = os.Setenv("LEDGER_API_KEY", "sk_test_e2e")
	_ = os.Setenv("LEDGER_PAGE_SIZE", "2")
	_ = os.Setenv("ADMIN_API_KEYS", "admin="+hash)
	return nil
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	for _, table := range []string{"reconciliation_logs", "orders"} {
		if err := dbConn.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

func seedOrders(t *testing.T, dbConn *gorm.DB, orders []orderdomain.Order) {
	t.Helper()
	if err := dbConn.Create(&orders).Error; err != nil {
		t.Fatalf("seed orders: %v", err)
	}
}

func doJSON(t *testing.T, method, path, key string, body any) (int, []byte) {
	t.Helper()

	var payload io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, raw
}

func decode(t *testing.T, body []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode response %s: %v", body, err)
	}
}

func scenarioTransactions() []map[string]any {
	at := func(hour int) int64 {
		return time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC).Unix()
	}
	return []map[string]any{
		{"id": "txn_1", "object": "balance_transaction", "amount": 1000, "fee": 30, "net": 970, "type": "charge", "created": at(9), "status": "available"},
		{"id": "txn_2", "object": "balance_transaction", "amount": 2000, "fee": 60, "net": 1940, "type": "charge", "created": at(10), "status": "available"},
		{"id": "txn_3", "object": "balance_transaction", "amount": 3000, "fee": 90, "net": 2910, "type": "payment", "created": at(11), "status": "available"},
		{"id": "txn_4", "object": "balance_transaction", "amount": -1000, "fee": -30, "net": -970, "type": "refund", "created": at(12), "status": "available"},
	}
}

func scenarioOrders() []orderdomain.Order {
	ref := func(s string) *string { return &s }
	at := func(hour int) time.Time {
		return time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC)
	}
	return []orderdomain.Order{
		{ID: "ord_1", Total: 1000, Fees: 30, ExternalRef: ref("txn_1"), Status: "succeeded", CreatedAt: at(9)},
		{ID: "ord_2", Total: 2000, Fees: 60, ExternalRef: ref("txn_2"), Status: "succeeded", CreatedAt: at(10)},
		{ID: "ord_3", Total: 3000, Fees: 90, ExternalRef: ref("txn_3"), Status: "succeeded", CreatedAt: at(11)},
	}
}

// fakeLedger serves /v1/balance_transactions with cursor pagination.
type fakeLedger struct {
	mu     sync.Mutex
	txs    []map[string]any
	status int
	pages  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{}
}

func (f *fakeLedger) reset(txs []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = txs
	f.pages = 0
}

func (f *fakeLedger) failWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeLedger) pageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/v1/balance_transactions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "api_error", "message": "upstream unavailable"},
		})
		return
	}
	f.pages++

	limit := 100
	if _, err := fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit); err != nil || limit <= 0 {
		limit = 100
	}

	start := 0
	if after := r.URL.Query().Get("starting_after"); after != "" {
		for i, tx := range f.txs {
			if tx["id"] == after {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.txs) {
		end = len(f.txs)
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"object":   "list",
		"data":     f.txs[start:end],
		"has_more": end < len(f.txs),
	})
}
