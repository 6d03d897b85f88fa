// Package ledger wraps the external ledger service's HTTP API: balance
// queries, transfer-history queries, transfer creation, and the upstream
// transaction feed. All calls authenticate with a static API credential and
// transparently retry 429 responses with exponential backoff.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Transfer is one historical or newly created ledger transfer.
type Transfer struct {
	ID                string `json:"id"`
	Amount            int64  `json:"amount"`
	SourceUserID      string `json:"source_user_id"`
	DestinationUserID string `json:"destination_user_id"`
	Reference         string `json:"reference"`
	Status            string `json:"status"`
}

// TransferRequest creates one fund transfer. Reference doubles as the
// idempotency key callers use to detect prior transfers.
type TransferRequest struct {
	Amount            int64  `json:"amount"`
	SourceUserID      string `json:"source_user_id"`
	DestinationUserID string `json:"destination_user_id"`
	Reference         string `json:"reference"`
}

// Fee is the upstream fee breakdown on a transaction feed item.
type Fee struct {
	Status  string `json:"status"`
	BankFee int64  `json:"xendit_fee"`
	VAT     int64  `json:"value_added_tax"`
}

// Transaction is one item from the upstream transaction feed.
type Transaction struct {
	ID               string `json:"id"`
	ReferenceID      string `json:"reference_id"`
	Amount           int64  `json:"amount"`
	SettlementStatus string `json:"settlement_status"`
	Cashflow         string `json:"cashflow"`
	ChannelCategory  string `json:"channel_category"`
	Fee              Fee    `json:"fee"`
}

// ListQuery pages the upstream transaction feed by an opaque cursor.
type ListQuery struct {
	Limit             int
	AfterID           string
	ChannelCategories []string
}

// Client is the ledger service surface the engine depends on.
type Client interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
	FindTransfersByReference(ctx context.Context, accountID, reference string) ([]Transfer, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	ListTransactions(ctx context.Context, q ListQuery) ([]Transaction, error)
}

// HTTPClient implements Client against the ledger service's REST API.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	accountID string
	httpc     *http.Client
	backoff   BackoffPolicy
	onRetry   func()
}

var _ Client = (*HTTPClient)(nil)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBackoff overrides the rate-limit retry policy.
func WithBackoff(p BackoffPolicy) Option {
	return func(c *HTTPClient) { c.backoff = p }
}

// WithRetryHook registers a callback invoked once per rate-limit retry.
func WithRetryHook(fn func()) Option {
	return func(c *HTTPClient) { c.onRetry = fn }
}

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.httpc = h }
}

// NewHTTPClient builds a ledger client. accountID is the platform account
// used to scope the transaction feed; individual calls carry their own
// account scope.
func NewHTTPClient(baseURL, apiKey, accountID string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		accountID: accountID,
		httpc:     &http.Client{Timeout: 30 * time.Second},
		backoff:   DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the {"data": ...} wrapper on every ledger response.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

type errorPayload struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// GetBalance returns the queryable balance for one account, in minor units.
func (c *HTTPClient) GetBalance(ctx context.Context, accountID string) (int64, error) {
	params := url.Values{"for-account": {accountID}}

	var out struct {
		Balance int64 `json:"balance"`
	}
	err := retryRateLimited(ctx, c.backoff, c.onRetry, func() error {
		return c.get(ctx, "/balance", params, &out)
	})
	if err != nil {
		return 0, fmt.Errorf("get balance for %s: %w", accountID, err)
	}
	return out.Balance, nil
}

// FindTransfersByReference lists prior transfers for the account whose
// reference matches. An empty slice means the reference has never been
// transferred to that account.
func (c *HTTPClient) FindTransfersByReference(ctx context.Context, accountID, reference string) ([]Transfer, error) {
	params := url.Values{
		"for-account":  {accountID},
		"reference_id": {reference},
	}

	var out []Transfer
	err := retryRateLimited(ctx, c.backoff, c.onRetry, func() error {
		return c.get(ctx, "/transfers", params, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("find transfers %s: %w", reference, err)
	}
	return out, nil
}

// CreateTransfer issues one fund transfer. Business rejections come back as
// *RejectedError; the caller decides how to record them.
func (c *HTTPClient) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	var out Transfer
	err := retryRateLimited(ctx, c.backoff, c.onRetry, func() error {
		return c.post(ctx, "/transfers", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTransactions pages the upstream transaction feed.
func (c *HTTPClient) ListTransactions(ctx context.Context, q ListQuery) ([]Transaction, error) {
	params := url.Values{"for-account": {c.accountID}}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.AfterID != "" {
		params.Set("after_id", q.AfterID)
	}
	for _, cat := range q.ChannelCategories {
		params.Add("channel_categories", cat)
	}

	var out []Transaction
	err := retryRateLimited(ctx, c.backoff, c.onRetry, func() error {
		return c.get(ctx, "/transactions", params, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		rej := &RejectedError{StatusCode: resp.StatusCode}
		var payload errorPayload
		if json.Unmarshal(body, &payload) == nil {
			rej.Code = payload.ErrorCode
			rej.Message = payload.Message
		}
		return rej
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response envelope: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
