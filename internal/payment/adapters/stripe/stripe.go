package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	providerName       = "stripe"
	defaultBaseURL     = "https://api.stripe.com"
	defaultPageSize    = 100
	maxPageSize        = 100
	maxPages           = 1000
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 10 << 20
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.LedgerAdapter, error) {
	apiKey, ok := readString(cfg.Config, "api_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL := defaultBaseURL
	if raw, ok := readString(cfg.Config, "base_url"); ok && strings.TrimSpace(raw) != "" {
		baseURL = strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	pageSize := defaultPageSize
	if size, ok := readInt(cfg.Config, "page_size"); ok && size > 0 {
		pageSize = size
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Adapter{
		apiKey:   apiKey,
		baseURL:  baseURL,
		pageSize: pageSize,
		client:   client,
	}, nil
}

// Adapter reads the stripe balance transactions list.
type Adapter struct {
	apiKey   string
	baseURL  string
	pageSize int
	client   *http.Client
}

func (a *Adapter) Provider() string {
	return providerName
}

// ListTransactions walks every page created inside period. Any failed page
// fails the whole listing; partial results are never returned.
func (a *Adapter) ListTransactions(ctx context.Context, period reconciliationdomain.Period) ([]reconciliationdomain.LedgerTransaction, error) {
	gte, lte := unixBounds(period)
	txs := []reconciliationdomain.LedgerTransaction{}
	cursor := ""

	for page := 0; ; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("%w: stopped after %d pages", reconciliationdomain.ErrTooManyPages, maxPages)
		}

		list, err := a.fetchPage(ctx, gte, lte, cursor)
		if err != nil {
			return nil, err
		}

		for _, item := range list.Data {
			tx := item.toLedgerTransaction()
			if !period.Contains(tx.CreatedAt) {
				continue
			}
			txs = append(txs, tx)
		}

		if !list.HasMore {
			return txs, nil
		}
		if len(list.Data) == 0 {
			return nil, reconciliationdomain.ErrPaginationStall
		}
		next := strings.TrimSpace(list.Data[len(list.Data)-1].ID)
		if next == "" || next == cursor {
			return nil, reconciliationdomain.ErrPaginationStall
		}
		cursor = next
	}
}

func (a *Adapter) fetchPage(ctx context.Context, gte, lte int64, cursor string) (*balanceTransactionList, error) {
	query := url.Values{}
	query.Set("created[gte]", strconv.FormatInt(gte, 10))
	query.Set("created[lte]", strconv.FormatInt(lte, 10))
	query.Set("limit", strconv.Itoa(a.pageSize))
	if cursor != "" {
		query.Set("starting_after", cursor)
	}

	endpoint := a.baseURL + "/v1/balance_transactions?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var list balanceTransactionList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	return &list, nil
}

type balanceTransactionList struct {
	Object  string               `json:"object"`
	Data    []balanceTransaction `json:"data"`
	HasMore bool                 `json:"has_more"`
}

type balanceTransaction struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Fee     int64  `json:"fee"`
	Net     int64  `json:"net"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Status  string `json:"status"`
}

func (t balanceTransaction) toLedgerTransaction() reconciliationdomain.LedgerTransaction {
	return reconciliationdomain.LedgerTransaction{
		ID:        t.ID,
		Amount:    t.Amount,
		Fee:       t.Fee,
		Net:       t.Net,
		Type:      transactionType(t.Type),
		CreatedAt: time.Unix(t.Created, 0).UTC(),
		Status:    t.Status,
	}
}

func transactionType(raw string) reconciliationdomain.TransactionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "charge":
		return reconciliationdomain.TransactionTypeCharge
	case "payment":
		return reconciliationdomain.TransactionTypePayment
	case "refund", "payment_refund":
		return reconciliationdomain.TransactionTypeRefund
	default:
		return reconciliationdomain.TransactionTypeOther
	}
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(status int, body []byte) error {
	apiErr := &paymentdomain.APIError{Provider: providerName, StatusCode: status}
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Type = strings.TrimSpace(envelope.Error.Type)
		apiErr.Message = strings.TrimSpace(envelope.Error.Message)
	}
	return apiErr
}

// unixBounds converts an inclusive period to whole seconds without widening it.
func unixBounds(period reconciliationdomain.Period) (int64, int64) {
	gte := period.Start.Unix()
	if period.Start.Nanosecond() > 0 {
		gte++
	}
	return gte, period.End.Unix()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}

func readInt(config map[string]any, key string) (int, bool) {
	value, ok := config[key]
	if !ok {
		return 0, false
	}
	switch cast := value.(type) {
	case int:
		return cast, true
	case int64:
		return int(cast), true
	case float64:
		return int(cast), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(cast))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

