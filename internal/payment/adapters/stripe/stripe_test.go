package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, server *httptest.Server, pageSize int) paymentdomain.LedgerAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Config: map[string]any{
			"api_key":   "sk_test_123",
			"base_url":  server.URL,
			"page_size": pageSize,
		},
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return adapter
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(payload))
}

func TestListTransactionsFollowsCursor(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	inside := start.Add(time.Hour).Unix()

	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balance_transactions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		query := r.URL.Query()
		assert.Equal(t, "1704067200", query.Get("created[gte]"))
		assert.Equal(t, "1706745599", query.Get("created[lte]"))
		assert.Equal(t, "2", query.Get("limit"))
		cursors = append(cursors, query.Get("starting_after"))

		switch query.Get("starting_after") {
		case "":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"object":   "list",
				"has_more": true,
				"data": []map[string]any{
					{"id": "txn_1", "amount": 10000, "fee": 300, "net": 9700, "type": "charge", "created": inside, "status": "available"},
					{"id": "txn_2", "amount": 5000, "fee": 150, "net": 4850, "type": "payment", "created": inside, "status": "pending"},
				},
			})
		case "txn_2":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"object":   "list",
				"has_more": false,
				"data": []map[string]any{
					{"id": "txn_3", "amount": -2000, "fee": -60, "net": -1940, "type": "payment_refund", "created": inside, "status": "available"},
					{"id": "txn_4", "amount": -100, "fee": 0, "net": -100, "type": "payout", "created": inside, "status": "available"},
				},
			})
		default:
			t.Errorf("unexpected cursor %q", query.Get("starting_after"))
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, 2)
	txs, err := adapter.ListTransactions(context.Background(), reconciliationdomain.Period{Start: start, End: end})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "txn_2"}, cursors)
	require.Len(t, txs, 4)
	assert.Equal(t, reconciliationdomain.TransactionTypeCharge, txs[0].Type)
	assert.Equal(t, reconciliationdomain.TransactionTypePayment, txs[1].Type)
	assert.Equal(t, reconciliationdomain.TransactionTypeRefund, txs[2].Type)
	assert.Equal(t, reconciliationdomain.TransactionTypeOther, txs[3].Type)
	assert.Equal(t, int64(-60), txs[2].Fee)
	assert.Equal(t, time.Unix(inside, 0).UTC(), txs[0].CreatedAt)
}

func TestListTransactionsDropsRowsOutsidePeriod(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 500, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1704067201", r.URL.Query().Get("created[gte]"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"has_more": false,
			"data": []map[string]any{
				{"id": "txn_early", "amount": 100, "type": "charge", "created": start.Unix()},
				{"id": "txn_end", "amount": 200, "type": "charge", "created": end.Unix()},
				{"id": "txn_late", "amount": 300, "type": "charge", "created": end.Unix() + 1},
			},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, 100)
	txs, err := adapter.ListTransactions(context.Background(), reconciliationdomain.Period{Start: start, End: end})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "txn_end", txs[0].ID)
}

func TestListTransactionsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "Invalid API Key provided"},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, 100)
	now := time.Now().UTC()
	_, err := adapter.ListTransactions(context.Background(), reconciliationdomain.Period{Start: now.Add(-time.Hour), End: now})
	require.Error(t, err)

	var apiErr *paymentdomain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.Contains(t, err.Error(), "Invalid API Key provided")
}

func TestListTransactionsFailsOnSecondPage(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"has_more": true,
				"data":     []map[string]any{{"id": "txn_1", "amount": 100, "type": "charge", "created": time.Now().Unix()}},
			})
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, 1)
	now := time.Now().UTC()
	txs, err := adapter.ListTransactions(context.Background(), reconciliationdomain.Period{Start: now.Add(-time.Hour), End: now.Add(time.Hour)})
	require.Error(t, err)
	assert.Nil(t, txs)
	assert.Equal(t, 2, calls)
}

func TestListTransactionsDetectsStall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"has_more": true,
			"data":     []map[string]any{},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, 100)
	now := time.Now().UTC()
	_, err := adapter.ListTransactions(context.Background(), reconciliationdomain.Period{Start: now.Add(-time.Hour), End: now})
	assert.ErrorIs(t, err, reconciliationdomain.ErrPaginationStall)
}

func TestListTransactionsInvalidPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, 100)
	now := time.Now().UTC()
	_, err := adapter.ListTransactions(context.Background(), reconciliationdomain.Period{Start: now.Add(-time.Hour), End: now})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestNewAdapterValidatesConfig(t *testing.T) {
	factory := NewFactory()
	assert.Equal(t, "stripe", factory.Provider())

	_, err := factory.NewAdapter(paymentdomain.AdapterConfig{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)

	_, err = factory.NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{"api_key": "  "}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)

	_, err = factory.NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{"api_key": "sk", "base_url": "not a url"}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)

	adapter, err := factory.NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{"api_key": "sk", "page_size": "500"}})
	require.NoError(t, err)
	stripeAdapter, ok := adapter.(*Adapter)
	require.True(t, ok)
	assert.Equal(t, maxPageSize, stripeAdapter.pageSize)
	assert.Equal(t, defaultBaseURL, stripeAdapter.baseURL)
}
